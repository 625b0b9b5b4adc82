//go:build unix

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docpipe/internal/apperrors"
	"docpipe/internal/job"
)

// writeScript creates an executable shell script acting as the worker binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docworker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestRunnerReportsProgress(t *testing.T) {
	t.Parallel()
	bin := writeScript(t, `
echo "loading"
echo '::progress::v1 {"current":1,"total":2,"percent":50,"message":"page 1"}'
echo "[2/2] 100% | Processing: page-2.png"
echo "Processing done"
`)
	r := NewRunner(Config{Binary: bin})

	var updates []Update
	err := r.Run(context.Background(), MarkdownToPDF("in.md", "out.pdf", false), func(u Update) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("got %d updates, want 3: %+v", len(updates), updates)
	}
	if updates[0].Percent != 50 || updates[1].Percent != 100 {
		t.Errorf("unexpected percents: %d, %d", updates[0].Percent, updates[1].Percent)
	}
	if updates[2].HasPercent {
		t.Error("keyword line should not carry a percent")
	}
}

func TestRunnerPassesArguments(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "argv")
	bin := writeScript(t, `echo "$@" > `+out)
	r := NewRunner(Config{Binary: bin})

	if err := r.Run(context.Background(), SplitReorder("in.pdf", "out.pdf", []int{3, 1, 2}), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read argv: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "split-reorder --input in.pdf --output out.pdf --pages 3,1,2" {
		t.Errorf("argv = %q", got)
	}
}

func TestRunnerSkipsOversizedLines(t *testing.T) {
	t.Parallel()
	bin := writeScript(t, `
head -c 3000000 /dev/zero | tr '\0' 'x'
echo
echo "[1/1] 100% | Processing: page.png"
exit 0`)
	r := NewRunner(Config{Binary: bin})

	var updates []Update
	spec := MarkdownToPDF("in.md", "out.pdf", false)
	spec.Timeout = 10 * time.Second
	if err := r.Run(context.Background(), spec, func(u Update) { updates = append(updates, u) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(updates) != 1 || updates[0].Percent != 100 {
		t.Errorf("updates = %+v, want the line after the oversized one", updates)
	}
}

func TestReadLines(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("y", 40)
	tests := []struct {
		name        string
		in          string
		wantLines   []string
		wantSkipped int
	}{
		{"plain", "a\nb\n", []string{"a", "b"}, 0},
		{"no trailing newline", "a\r\nb", []string{"a", "b"}, 0},
		{"oversized in the middle", "a\n" + long + "\nb\n", []string{"a", "b"}, 1},
		{"oversized at end", "a\n" + long, []string{"a"}, 1},
		{"empty", "", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			skipped, err := readLines(strings.NewReader(tt.in), 16, func(l string) { got = append(got, l) })
			if err != nil {
				t.Fatalf("readLines() error = %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.wantLines, "|") || skipped != tt.wantSkipped {
				t.Errorf("lines = %q skipped = %d, want %q skipped = %d", got, skipped, tt.wantLines, tt.wantSkipped)
			}
		})
	}
}

func TestRunnerWorkerFailure(t *testing.T) {
	t.Parallel()
	bin := writeScript(t, `echo "corrupt xref table" >&2; exit 3`)
	r := NewRunner(Config{Binary: bin})

	err := r.Run(context.Background(), ExtractPages("a.pdf", "a.md", "/tmp", false), nil)
	if !errors.Is(err, apperrors.ErrWorkerFailure) {
		t.Fatalf("Run() error = %v, want WorkerFailure", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected *apperrors.Error")
	}
	if appErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", appErr.ExitCode)
	}
	if appErr.Stderr != "corrupt xref table" {
		t.Errorf("Stderr = %q", appErr.Stderr)
	}
	if appErr.Stage != string(job.StageExtract) {
		t.Errorf("Stage = %q, want extract", appErr.Stage)
	}
}

func TestRunnerStageTimeout(t *testing.T) {
	t.Parallel()
	bin := writeScript(t, `sleep 30`)
	r := NewRunner(Config{Binary: bin, KillGrace: 100 * time.Millisecond})

	spec := MarkdownToPDF("in.md", "out.pdf", false)
	spec.Timeout = 200 * time.Millisecond

	start := time.Now()
	err := r.Run(context.Background(), spec, nil)
	if !errors.Is(err, apperrors.ErrStageTimeout) {
		t.Fatalf("Run() error = %v, want StageTimeout", err)
	}
	if errors.Is(err, apperrors.ErrWorkerFailure) {
		t.Error("timeout must be distinct from worker failure")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRunnerParentCancellation(t *testing.T) {
	t.Parallel()
	bin := writeScript(t, `echo "Processing page 1"; sleep 30`)
	r := NewRunner(Config{Binary: bin, KillGrace: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Run(ctx, ProcessDirectory("/in", "/out.md", "", job.Options{}), func(Update) {
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunnerMissingBinary(t *testing.T) {
	t.Parallel()
	r := NewRunner(Config{Binary: filepath.Join(t.TempDir(), "missing")})
	err := r.Run(context.Background(), MarkdownToPDF("a", "b", false), nil)
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("Run() error = %v, want internal error", err)
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	if got := b.String(); got != "world" {
		t.Errorf("String() = %q, want world", got)
	}
}
