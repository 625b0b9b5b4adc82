package engine

import (
	"fmt"
	"strings"
	"time"

	"docpipe/internal/config"
)

// ShutdownPolicy decides when Release stops an engine.
type ShutdownPolicy string

// Shutdown policies.
const (
	// PolicyRefCount stops an engine when its last user releases it.
	PolicyRefCount ShutdownPolicy = "refcount"
	// PolicyAlways stops an engine whenever any job releases it.
	PolicyAlways ShutdownPolicy = "always"
)

// KindConfig configures one engine kind.
type KindConfig struct {
	APIBase   string        // OpenAI-compatible base URL handed to workers
	HealthURL string        // probed with GET; 2xx means ready
	Attempts  int           // readiness polls before giving up
	Interval  time.Duration // delay between readiness polls

	Command   string   // executable launched when the engine is down
	Args      []string // arguments for Command
	Match     string   // pattern for stopping engines docpipe did not launch
	Container string   // when set, the engine is a Docker container instead of a process
}

// Config holds engine registry configuration.
type Config struct {
	Kinds            map[Kind]KindConfig
	Policy           ShutdownPolicy
	ProbeTimeout     time.Duration // per health probe
	StopGrace        time.Duration // wait after SIGTERM before SIGKILL
	BreakerThreshold int           // consecutive failed starts before failing fast
	BreakerCooldown  time.Duration
}

// LoadConfigFromEnv loads engine configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Kinds: map[Kind]KindConfig{
			KindNexa:   loadKind("ENGINE_A", defaultKinds[KindNexa]),
			KindOllama: loadKind("ENGINE_B", defaultKinds[KindOllama]),
		},
		Policy:           ShutdownPolicy(config.GetEnv("ENGINE_SHUTDOWN_POLICY", string(PolicyRefCount))),
		ProbeTimeout:     config.GetDurationEnv("ENGINE_PROBE_TIMEOUT", 2*time.Second),
		StopGrace:        config.GetDurationEnv("ENGINE_STOP_GRACE", 5*time.Second),
		BreakerThreshold: config.GetIntEnv("ENGINE_BREAKER_THRESHOLD", 3),
		BreakerCooldown:  config.GetDurationEnv("ENGINE_BREAKER_COOLDOWN", time.Minute),
	}
	return cfg.withDefaults()
}

var defaultKinds = map[Kind]KindConfig{
	KindNexa: {
		APIBase:   "http://127.0.0.1:18181/v1",
		HealthURL: "http://127.0.0.1:18181/v1/models",
		Attempts:  15,
		Interval:  2 * time.Second,
		Command:   "nexa",
		Args:      []string{"serve", "--host", "127.0.0.1:18181"},
		Match:     "nexa serve",
	},
	KindOllama: {
		APIBase:   "http://127.0.0.1:11434/v1",
		HealthURL: "http://127.0.0.1:11434/api/tags",
		Attempts:  10,
		Interval:  2 * time.Second,
		Command:   "ollama",
		Args:      []string{"serve"},
		Match:     "ollama serve",
	},
}

func loadKind(prefix string, def KindConfig) KindConfig {
	return KindConfig{
		APIBase:   strings.TrimRight(config.GetEnv(prefix+"_URL", def.APIBase), "/"),
		HealthURL: config.GetEnv(prefix+"_HEALTH_URL", def.HealthURL),
		Attempts:  config.GetIntEnv(prefix+"_ATTEMPTS", def.Attempts),
		Interval:  config.GetDurationEnv(prefix+"_INTERVAL", def.Interval),
		Command:   config.GetEnv(prefix+"_COMMAND", def.Command),
		Args:      config.GetListEnv(prefix+"_ARGS", def.Args),
		Match:     config.GetEnv(prefix+"_MATCH", def.Match),
		Container: config.GetEnv(prefix+"_CONTAINER", ""),
	}
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Kinds == nil {
		c.Kinds = make(map[Kind]KindConfig, len(defaultKinds))
		for k, v := range defaultKinds {
			c.Kinds[k] = v
		}
	}
	for k, kc := range c.Kinds {
		if kc.Attempts <= 0 {
			kc.Attempts = 1
		}
		if kc.Interval <= 0 {
			kc.Interval = 2 * time.Second
		}
		c.Kinds[k] = kc
	}
	if c.Policy != PolicyAlways {
		c.Policy = PolicyRefCount
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	return c
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	for k, kc := range c.Kinds {
		if kc.HealthURL == "" {
			return fmt.Errorf("engine %s: health URL is required", k)
		}
		if kc.Command == "" && kc.Container == "" {
			return fmt.Errorf("engine %s: either a command or a container is required", k)
		}
	}
	return nil
}
