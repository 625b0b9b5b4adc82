package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/client"
)

type closingLauncher struct {
	fakeEngine
	closed int
	err    error
}

func (c *closingLauncher) Close() error {
	c.closed++
	return c.err
}

func unreachableDocker(t *testing.T) *DockerLauncher {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "docker.sock")
	c, err := client.NewClientWithOpts(client.WithHost("unix://"+sock), client.WithAPIVersionNegotiation())
	if err != nil {
		t.Fatalf("NewClientWithOpts() error = %v", err)
	}
	return &DockerLauncher{client: c, container: "nexa-engine", stopTimeout: 1}
}

func TestDaemonCheck(t *testing.T) {
	t.Parallel()

	procOnly := map[Kind]Launcher{KindNexa: NewProcessLauncher(KindNexa, "nexa", nil, "", time.Second)}
	if DaemonCheck(procOnly) != nil {
		t.Error("expected no check without container launchers")
	}

	d := unreachableDocker(t)
	check := DaemonCheck(map[Kind]Launcher{KindNexa: procOnly[KindNexa], KindOllama: d})
	if check == nil {
		t.Fatal("expected a check for container launchers")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := check(ctx)
	if err == nil || !strings.Contains(err.Error(), "docker daemon unreachable") {
		t.Errorf("check() error = %v, want unreachable daemon", err)
	}
	if err := CloseLaunchers(map[Kind]Launcher{KindOllama: d}); err != nil {
		t.Errorf("CloseLaunchers() error = %v", err)
	}
}

func TestCloseLaunchers(t *testing.T) {
	t.Parallel()
	ok := &closingLauncher{}
	bad := &closingLauncher{err: errors.New("busy")}
	plain := &fakeEngine{}

	err := CloseLaunchers(map[Kind]Launcher{KindNexa: ok, KindOllama: bad, Kind("other"): plain})
	if err == nil || !strings.Contains(err.Error(), "busy") {
		t.Errorf("CloseLaunchers() error = %v, want the failing close", err)
	}
	if ok.closed != 1 || bad.closed != 1 {
		t.Errorf("closed = %d/%d, want every closer closed once", ok.closed, bad.closed)
	}
}
