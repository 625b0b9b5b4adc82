// Package proc supervises child processes as process groups so that a stage
// or engine can be terminated together with anything it spawned.
package proc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// ErrNotStarted is returned when signalling a command that never started.
var ErrNotStarted = errors.New("process not started")

// Isolate puts cmd in its own process group and makes context cancellation
// kill the whole group instead of only the direct child.
func Isolate(cmd *exec.Cmd) {
	setGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return ErrNotStarted
		}
		return killGroup(cmd.Process.Pid)
	}
}

// Terminate asks the process group led by p to exit, waits up to grace for
// done to close, then kills the group.
func Terminate(ctx context.Context, p *os.Process, done <-chan struct{}, grace time.Duration) error {
	if p == nil {
		return ErrNotStarted
	}
	if err := termGroup(p.Pid); err != nil {
		select {
		case <-done:
			return nil
		default:
		}
		return killGroup(p.Pid)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return killGroup(p.Pid)
}
