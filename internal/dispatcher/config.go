package dispatcher

import (
	"time"

	"docpipe/internal/config"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize       int           // pending events (default: 1000)
	Workers          int           // concurrent deliveries (default: 4)
	HTTPTimeout      time.Duration // per request (default: 10s)
	DeliveryTimeout  time.Duration // all attempts of one delivery (default: 30s)
	MaxRetries       int           // retries after the first attempt (default: 3)
	InitialBackoff   time.Duration // default: 200ms
	MaxBackoff       time.Duration // default: 5s
	BreakerThreshold int           // consecutive failed deliveries per host (default: 5)
	BreakerCooldown  time.Duration // default: 30s
	MaxRequeues      int           // times an event waits out an open breaker (default: 10)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:       config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:          config.GetIntEnv("DISPATCHER_WORKERS", 4),
		HTTPTimeout:      config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		DeliveryTimeout:  config.GetDurationEnv("DISPATCHER_DELIVERY_TIMEOUT", 30*time.Second),
		MaxRetries:       config.GetIntEnv("DISPATCHER_MAX_RETRIES", 3),
		BreakerThreshold: config.GetIntEnv("DISPATCHER_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("DISPATCHER_BREAKER_COOLDOWN", 30*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}
