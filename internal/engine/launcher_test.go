//go:build unix

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docpipe/internal/testutil"
)

func TestProcessLauncherStartStop(t *testing.T) {
	t.Parallel()
	l := NewProcessLauncher(KindOllama, "sh", []string{"-c", "echo serving; sleep 30"}, "", 200*time.Millisecond)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !l.Running() {
		t.Fatal("expected process to be running")
	}
	// Starting again while running is a no-op.
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	testutil.MustWaitFor(t, "engine process to exit", func() bool { return !l.Running() }, testutil.WithTimeout(5*time.Second))
}

func TestProcessLauncherMissingBinary(t *testing.T) {
	t.Parallel()
	l := NewProcessLauncher(KindNexa, "/nonexistent/nexa", nil, "", time.Second)
	if err := l.Start(context.Background()); err == nil {
		t.Fatal("expected launch error for missing binary")
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without a process = %v, want nil", err)
	}
}

func TestHTTPProber(t *testing.T) {
	t.Parallel()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	p := NewHTTPProber(100 * time.Millisecond)
	ctx := context.Background()
	if err := p.Probe(ctx, healthy.URL+"/v1/models"); err != nil {
		t.Errorf("healthy probe error = %v", err)
	}
	if err := p.Probe(ctx, unhealthy.URL); err == nil {
		t.Error("expected error for 503")
	}
	if err := p.Probe(ctx, slow.URL); err == nil {
		t.Error("expected timeout error")
	}
}
