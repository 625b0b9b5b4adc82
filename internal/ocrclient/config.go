package ocrclient

import (
	"time"

	"docpipe/internal/config"
)

// Config configures requests to an OpenAI-compatible vision endpoint.
type Config struct {
	Endpoint       string        // base URL, e.g. http://127.0.0.1:11434/v1
	APIKey         string        // sent as a bearer token when set
	RequestTimeout time.Duration // per attempt
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxTokens      int
}

// LoadConfigFromEnv reads OCR_* variables.
func LoadConfigFromEnv() Config {
	return Config{
		Endpoint:       config.GetEnv("OCR_ENDPOINT", ""),
		APIKey:         config.GetEnv("OCR_API_KEY", ""),
		RequestTimeout: config.GetDurationEnv("OCR_REQUEST_TIMEOUT", 10*time.Minute),
		MaxRetries:     config.GetIntEnv("OCR_MAX_RETRIES", 2),
		InitialBackoff: config.GetDurationEnv("OCR_INITIAL_BACKOFF", time.Second),
		MaxBackoff:     config.GetDurationEnv("OCR_MAX_BACKOFF", 15*time.Second),
		MaxTokens:      config.GetIntEnv("OCR_MAX_TOKENS", 16384),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 16384
	}
	return c
}
