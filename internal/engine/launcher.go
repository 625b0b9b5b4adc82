package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"docpipe/internal/proc"
)

// Launcher starts and stops an engine. Start must not block on readiness.
type Launcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ProcessLauncher runs the engine as a detached child process group.
type ProcessLauncher struct {
	Command string
	Args    []string
	Match   string        // pkill -f pattern for engines started elsewhere
	Grace   time.Duration // SIGTERM to SIGKILL delay

	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcessLauncher creates a launcher for command.
func NewProcessLauncher(kind Kind, command string, args []string, match string, grace time.Duration) *ProcessLauncher {
	return &ProcessLauncher{
		Command: command,
		Args:    args,
		Match:   match,
		Grace:   grace,
		logger:  slog.With("engine", kind),
	}
}

// Start launches the engine. The process outlives ctx; only Stop ends it.
func (l *ProcessLauncher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		select {
		case <-l.done:
		default:
			return nil // still running
		}
	}

	cmd := exec.Command(l.Command, l.Args...)
	proc.Isolate(cmd)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open engine output: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", l.Command, err)
	}

	done := make(chan struct{})
	l.cmd = cmd
	l.done = done
	l.logger.Info("Engine process launched", "pid", cmd.Process.Pid, "command", l.Command)

	go l.forwardOutput(out)
	go func() {
		err := cmd.Wait()
		close(done)
		l.logger.Info("Engine process exited", "pid", cmd.Process.Pid, "error", err)
	}()
	return nil
}

func (l *ProcessLauncher) forwardOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 1<<20)
	for scanner.Scan() {
		l.logger.Debug("Engine output", "line", scanner.Text())
	}
}

// Stop terminates the engine. A process this launcher started is signalled
// directly; otherwise processes matching Match are killed.
func (l *ProcessLauncher) Stop(ctx context.Context) error {
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	l.cmd, l.done = nil, nil
	l.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		select {
		case <-done:
		default:
			return proc.Terminate(ctx, cmd.Process, done, l.Grace)
		}
	}
	if l.Match == "" {
		return nil
	}
	return pkill(ctx, l.Match)
}

// pkill kills processes whose command line matches pattern. No match is not an error.
func pkill(ctx context.Context, pattern string) error {
	cmd := exec.CommandContext(ctx, "pkill", "-f", pattern)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("pkill unavailable: %w", err)
	}
	return err
}

// Running reports whether this launcher's process is alive.
func (l *ProcessLauncher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}
