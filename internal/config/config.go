// Package config provides configuration loading from environment variables.
package config

import (
	"path/filepath"
	"time"
)

// ServiceConfig holds configuration for the docpipe service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	DataDir           string        // Root for job-scoped upload, work and output directories
	PublicBaseURL     string        // Prefix for artifact URLs in progress events
	MaxUploadBytes    int64
	DatabaseURL       string // Job history in PostgreSQL when set, in memory otherwise
	HistoryLimit      int
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	dataDir := GetEnv("DATA_DIR", filepath.Join(".", "data"))
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		DataDir:           dataDir,
		PublicBaseURL:     GetEnv("PUBLIC_BASE_URL", ""),
		MaxUploadBytes:    GetInt64Env("MAX_UPLOAD_BYTES", 512<<20),
		DatabaseURL:       GetSecretFile(GetEnv("DATABASE_URL_FILE", "")),
		HistoryLimit:      GetIntEnv("HISTORY_LIMIT", 500),
	}
}
