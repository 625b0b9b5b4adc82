package dispatcher

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_BUFFER_SIZE", "50")
	t.Setenv("DISPATCHER_WORKERS", "2")
	t.Setenv("DISPATCHER_HTTP_TIMEOUT", "3s")
	t.Setenv("DISPATCHER_MAX_RETRIES", "1")

	cfg := LoadConfigFromEnv()
	if cfg.BufferSize != 50 || cfg.Workers != 2 || cfg.HTTPTimeout != 3*time.Second || cfg.MaxRetries != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.BreakerCooldown != 30*time.Second || cfg.MaxRequeues != 10 {
		t.Errorf("expected defaults for unset values: %+v", cfg)
	}
}

func TestMemoryConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := MemoryConfig{MaxRetries: -1}.withDefaults()

	if cfg.BufferSize != 1000 || cfg.Workers != 4 {
		t.Errorf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("negative retries should clamp to 0, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 200*time.Millisecond || cfg.MaxBackoff != 5*time.Second {
		t.Errorf("unexpected backoff defaults: %+v", cfg)
	}
}
