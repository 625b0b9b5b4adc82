package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if got := GetEnv("DOCPIPE_TEST_NONEXISTENT_VAR", "default"); got != "default" {
		t.Errorf("Expected 'default', got %q", got)
	}

	t.Setenv("DOCPIPE_TEST_GET_ENV", "custom")
	if got := GetEnv("DOCPIPE_TEST_GET_ENV", "default"); got != "custom" {
		t.Errorf("Expected 'custom', got %q", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 42},
		{"valid", "123", 123},
		{"invalid", "not-a-number", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DOCPIPE_TEST_INT", tt.value)
			if got := GetIntEnv("DOCPIPE_TEST_INT", 42); got != tt.want {
				t.Errorf("GetIntEnv() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetInt64Env(t *testing.T) {
	t.Setenv("DOCPIPE_TEST_INT64", "1073741824")
	if got := GetInt64Env("DOCPIPE_TEST_INT64", 1); got != 1<<30 {
		t.Errorf("GetInt64Env() = %d, want %d", got, int64(1<<30))
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{"unset keeps default", "", true, true},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"garbage keeps default", "yes please", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DOCPIPE_TEST_BOOL", tt.value)
			if got := GetBoolEnv("DOCPIPE_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("GetBoolEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetDurationEnv(t *testing.T) {
	def := 5 * time.Second
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", def},
		{"seconds", "30s", 30 * time.Second},
		{"milliseconds", "100ms", 100 * time.Millisecond},
		{"invalid", "not-a-duration", def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DOCPIPE_TEST_DURATION", tt.value)
			if got := GetDurationEnv("DOCPIPE_TEST_DURATION", def); got != tt.want {
				t.Errorf("GetDurationEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetListEnv(t *testing.T) {
	def := []string{"serve"}
	if got := GetListEnv("DOCPIPE_TEST_LIST_UNSET", def); !reflect.DeepEqual(got, def) {
		t.Errorf("GetListEnv() = %v, want %v", got, def)
	}

	t.Setenv("DOCPIPE_TEST_LIST", "  serve --port 18181 ")
	want := []string{"serve", "--port", "18181"}
	if got := GetListEnv("DOCPIPE_TEST_LIST", def); !reflect.DeepEqual(got, want) {
		t.Errorf("GetListEnv() = %v, want %v", got, want)
	}
}

func TestGetSecretFile(t *testing.T) {
	if got := GetSecretFile(""); got != "" {
		t.Errorf("Expected empty string for empty path, got %q", got)
	}
	if got := GetSecretFile("/nonexistent/path/to/secret"); got != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("my-secret-value\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}
	if got := GetSecretFile(path); got != "my-secret-value" {
		t.Errorf("Expected %q, got %q", "my-secret-value", got)
	}
}

func TestLoadServiceConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg := LoadServiceConfig()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Errorf("MaxUploadBytes = %d, want 1024", cfg.MaxUploadBytes)
	}
	if cfg.MetricsPort != "9090" {
		t.Errorf("MetricsPort = %q, want default 9090", cfg.MetricsPort)
	}
}
