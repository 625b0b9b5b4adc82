package worker

import (
	"time"

	"docpipe/internal/config"
	"docpipe/internal/job"
)

// Config holds configuration for running worker stages.
type Config struct {
	Binary         string        // path to the docworker executable
	ExtractTimeout time.Duration // wall-clock limit for page extraction
	ProcessTimeout time.Duration // wall-clock limit for OCR inference over a directory
	ConvertTimeout time.Duration // wall-clock limit for conversion stages
	KillGrace      time.Duration // wait after kill before abandoning output pipes
	StderrLimit    int           // bytes of stderr kept for error reports
}

// LoadConfigFromEnv loads worker configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Binary:         config.GetEnv("WORKER_BIN", "docworker"),
		ExtractTimeout: config.GetDurationEnv("STAGE_TIMEOUT_EXTRACT", 10*time.Minute),
		ProcessTimeout: config.GetDurationEnv("STAGE_TIMEOUT_PROCESS", time.Hour),
		ConvertTimeout: config.GetDurationEnv("STAGE_TIMEOUT_CONVERT", 10*time.Minute),
		KillGrace:      config.GetDurationEnv("WORKER_KILL_GRACE", 5*time.Second),
		StderrLimit:    config.GetIntEnv("WORKER_STDERR_LIMIT", 8192),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "docworker"
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 10 * time.Minute
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = time.Hour
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = 10 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.StderrLimit <= 0 {
		c.StderrLimit = 8192
	}
	return c
}

// TimeoutFor returns the limit for a stage.
func (c Config) TimeoutFor(stage job.Stage) time.Duration {
	switch stage {
	case job.StageExtract:
		return c.ExtractTimeout
	case job.StageProcess:
		return c.ProcessTimeout
	default:
		return c.ConvertTimeout
	}
}
