// Package depgate probes optional system capabilities, reports how to install
// them, and optionally installs them on request.
package depgate

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"docpipe/internal/apperrors"
	"docpipe/internal/config"
	"docpipe/internal/proc"
)

// Capability names.
const (
	Rasterizer = "pdftoppm"
	EngineNexa = "nexa"
	EngineOlla = "ollama"
)

// Capability is an external program the pipeline can use.
type Capability struct {
	Name   string
	Binary string
	// Install holds the install argv per GOOS. A missing entry means the
	// capability can only be installed by hand.
	Install map[string][]string
	// Hint is shown when no install command exists for the current OS.
	Hint string
}

// Dependency is the result of probing one capability.
type Dependency struct {
	Name           string `json:"name"`
	Installed      bool   `json:"installed"`
	InstallCommand string `json:"installCommand"`
	Path           string `json:"path,omitempty"`
}

// Entry is a dependency as reported in Status.
type Entry struct {
	Installed      bool   `json:"installed"`
	InstallCommand string `json:"installCommand"`
}

// Status reports every known capability.
type Status struct {
	AllInstalled bool             `json:"allInstalled"`
	Dependencies map[string]Entry `json:"dependencies"`
}

// DefaultCapabilities returns the capabilities docpipe knows about.
func DefaultCapabilities() []Capability {
	return []Capability{
		{
			Name:   Rasterizer,
			Binary: config.GetEnv("PDFTOPPM_BIN", "pdftoppm"),
			Install: map[string][]string{
				"darwin":  {"brew", "install", "poppler"},
				"linux":   {"sudo", "-n", "apt-get", "install", "-y", "poppler-utils"},
				"windows": {"choco", "install", "-y", "poppler"},
			},
		},
		{
			Name:   EngineNexa,
			Binary: config.GetEnv("ENGINE_A_BIN", "nexa"),
			Hint:   "see https://github.com/NexaAI/nexa-sdk",
		},
		{
			Name:   EngineOlla,
			Binary: config.GetEnv("ENGINE_B_BIN", "ollama"),
			Install: map[string][]string{
				"darwin": {"brew", "install", "ollama"},
				"linux":  {"sh", "-c", "curl -fsSL https://ollama.com/install.sh | sh"},
			},
		},
	}
}

// Config holds dependency gate configuration.
type Config struct {
	AutoInstall    bool          // permit Ensure to run install commands
	InstallTimeout time.Duration // limit for one install command
}

// LoadConfigFromEnv loads gate configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AutoInstall:    config.GetBoolEnv("AUTO_INSTALL_DEPENDENCIES", false),
		InstallTimeout: config.GetDurationEnv("INSTALL_TIMEOUT", 10*time.Minute),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 10 * time.Minute
	}
	return c
}

// Gate answers whether capabilities are present. Results are never cached:
// every Check probes the system again.
type Gate struct {
	cfg   Config
	caps  map[string]Capability
	order []string
	goos  string

	lookPath   func(string) (string, error)
	runInstall func(ctx context.Context, argv []string) (string, error)

	installMu sync.Mutex
}

// New creates a gate for the given capabilities.
func New(cfg Config, caps []Capability) *Gate {
	g := &Gate{
		cfg:        cfg.withDefaults(),
		caps:       make(map[string]Capability, len(caps)),
		goos:       runtime.GOOS,
		lookPath:   exec.LookPath,
		runInstall: runCommand,
	}
	for _, c := range caps {
		g.caps[c.Name] = c
		g.order = append(g.order, c.Name)
	}
	return g
}

// AutoInstall reports whether Ensure may install missing capabilities.
func (g *Gate) AutoInstall() bool {
	return g.cfg.AutoInstall
}

// Check probes a capability. It has no side effects.
func (g *Gate) Check(name string) Dependency {
	c, ok := g.caps[name]
	if !ok {
		return Dependency{Name: name}
	}
	dep := Dependency{Name: name, InstallCommand: g.installCommand(c)}
	if path, err := g.lookPath(c.Binary); err == nil {
		dep.Installed = true
		dep.Path = path
	}
	return dep
}

// Ensure returns the dependency when it is installed. When it is missing and
// auto-install is enabled, the install command for this OS runs once and the
// capability is re-checked. A capability that is still missing yields
// DependencyMissing, which callers may recover from with a fallback.
func (g *Gate) Ensure(ctx context.Context, name string) (Dependency, error) {
	if _, ok := g.caps[name]; !ok {
		return Dependency{Name: name}, apperrors.NotFound("dependency", name)
	}
	dep := g.Check(name)
	if dep.Installed {
		return dep, nil
	}
	if !g.cfg.AutoInstall {
		return dep, apperrors.DependencyMissing(name, dep.InstallCommand)
	}
	return g.install(ctx, name)
}

// Install runs the install command for a capability regardless of the
// auto-install setting. Used by explicit operator requests.
func (g *Gate) Install(ctx context.Context, name string) (Dependency, error) {
	if _, ok := g.caps[name]; !ok {
		return Dependency{Name: name}, apperrors.NotFound("dependency", name)
	}
	if dep := g.Check(name); dep.Installed {
		return dep, nil
	}
	return g.install(ctx, name)
}

func (g *Gate) install(ctx context.Context, name string) (Dependency, error) {
	g.installMu.Lock()
	defer g.installMu.Unlock()

	// Another caller may have installed it while we waited.
	if dep := g.Check(name); dep.Installed {
		return dep, nil
	}

	c := g.caps[name]
	argv := c.Install[g.goos]
	dep := g.Check(name)
	if len(argv) == 0 {
		return dep, apperrors.DependencyMissing(name, dep.InstallCommand)
	}

	logger := slog.With("dependency", name, "command", strings.Join(argv, " "))
	logger.Info("Installing dependency")

	installCtx, cancel := context.WithTimeout(ctx, g.cfg.InstallTimeout)
	defer cancel()
	if out, err := g.runInstall(installCtx, argv); err != nil {
		logger.Warn("Dependency install failed", "error", err, "output", lastLines(out, 5))
	}

	dep = g.Check(name)
	if !dep.Installed {
		return dep, apperrors.DependencyMissing(name, dep.InstallCommand)
	}
	logger.Info("Dependency installed", "path", dep.Path)
	return dep, nil
}

// Status probes every capability.
func (g *Gate) Status() Status {
	st := Status{AllInstalled: true, Dependencies: make(map[string]Entry, len(g.order))}
	for _, name := range g.order {
		dep := g.Check(name)
		st.Dependencies[name] = Entry{Installed: dep.Installed, InstallCommand: dep.InstallCommand}
		if !dep.Installed {
			st.AllInstalled = false
		}
	}
	return st
}

// Names returns the known capability names in registration order.
func (g *Gate) Names() []string {
	return append([]string(nil), g.order...)
}

func (g *Gate) installCommand(c Capability) string {
	if argv, ok := c.Install[g.goos]; ok {
		if len(argv) == 3 && argv[0] == "sh" && argv[1] == "-c" {
			return argv[2]
		}
		return strings.Join(argv, " ")
	}
	if c.Hint != "" {
		return c.Hint
	}
	return fmt.Sprintf("install %s and make sure it is on PATH", c.Binary)
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Isolate(cmd)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.String(), err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
