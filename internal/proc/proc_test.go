//go:build unix

package proc

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestTerminateStopsProcessGroup(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	Isolate(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	if err := Terminate(context.Background(), cmd.Process, done, time.Second); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process group still running after Terminate")
	}
}

func TestIsolateCancelKillsGroup(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30")
	Isolate(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.Wait() }()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected non-nil error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command did not exit after cancellation")
	}
}

func TestTerminateNilProcess(t *testing.T) {
	t.Parallel()
	if err := Terminate(context.Background(), nil, nil, time.Second); err != ErrNotStarted {
		t.Errorf("Terminate(nil) = %v, want ErrNotStarted", err)
	}
}
