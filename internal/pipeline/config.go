package pipeline

import (
	"time"

	"docpipe/internal/config"
)

// Config holds pipeline executor configuration.
type Config struct {
	DataDir             string        // root for uploads/, work/ and outputs/
	PublicBaseURL       string        // prefix for artifact URLs ("" for relative URLs)
	FallbackPermitted   bool          // allow text extraction when the rasterizer is missing
	StreamBuffer        int           // progress events buffered per job
	CleanupTimeout      time.Duration // limit for releasing a job's resources
	RetentionPeriod     time.Duration // how long finished job outputs are kept
	MaintenanceInterval time.Duration // how often expired outputs are swept
	EventSource         string        // CloudEvent source for webhooks
}

// LoadConfigFromEnv loads executor configuration from environment variables.
// dataDir and publicBaseURL come from the service configuration.
func LoadConfigFromEnv(dataDir, publicBaseURL string) Config {
	cfg := Config{
		DataDir:             dataDir,
		PublicBaseURL:       publicBaseURL,
		FallbackPermitted:   config.GetBoolEnv("FALLBACK_PERMITTED", true),
		StreamBuffer:        config.GetIntEnv("PROGRESS_BUFFER", 32),
		CleanupTimeout:      config.GetDurationEnv("CLEANUP_TIMEOUT", 30*time.Second),
		RetentionPeriod:     config.GetDurationEnv("JOB_RETENTION", time.Hour),
		MaintenanceInterval: config.GetDurationEnv("MAINTENANCE_INTERVAL", time.Minute),
		EventSource:         config.GetEnv("EVENT_SOURCE", "docpipe/service"),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.StreamBuffer < 0 {
		c.StreamBuffer = 0
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 30 * time.Second
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = time.Hour
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	if c.EventSource == "" {
		c.EventSource = "docpipe/service"
	}
	return c
}
