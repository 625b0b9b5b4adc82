// Package worker runs native worker stages as supervised child processes and
// translates their output into progress updates.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"docpipe/internal/apperrors"
	"docpipe/internal/proc"
)

// maxLineSize bounds a single stdout line; longer lines are skipped.
const maxLineSize = 1 << 20

// Runner spawns exactly one worker process per stage.
type Runner struct {
	cfg Config
}

// NewRunner creates a stage runner.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg.withDefaults()}
}

// Binary returns the worker executable the runner invokes.
func (r *Runner) Binary() string {
	return r.cfg.Binary
}

// Run executes spec and blocks until the worker exits.
//
// onUpdate is called on the caller's goroutine for each recognised progress
// line, so a slow consumer slows the worker rather than dropping updates.
// The stage is killed when its timeout elapses (StageTimeout) or ctx is
// cancelled (ctx.Err()). A non-zero exit yields WorkerFailure with the tail of
// stderr attached.
func (r *Runner) Run(ctx context.Context, spec StageSpec, onUpdate func(Update)) error {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.TimeoutFor(spec.Stage)
	}
	logger := slog.With("stage", spec.Stage, "command", spec.Command)

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(stageCtx, r.cfg.Binary, spec.Argv()...)
	proc.Isolate(cmd)
	cmd.WaitDelay = r.cfg.KillGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.Internal("worker.stdoutPipe", err)
	}
	stderr := newTailBuffer(r.cfg.StderrLimit)
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return apperrors.Internal(fmt.Sprintf("worker.start %s", spec.Command), err)
	}
	logger.Debug("Worker started", "pid", cmd.Process.Pid, "timeout", timeout)

	skipped, err := readLines(stdout, maxLineSize, func(line string) {
		if u, ok := ParseLine(line); ok {
			if onUpdate != nil {
				onUpdate(u)
			}
			return
		}
		if strings.TrimSpace(line) != "" {
			logger.Debug("Worker output", "line", line)
		}
	})
	if skipped > 0 {
		logger.Warn("Skipped oversized worker output lines", "lines", skipped, "limit", maxLineSize)
	}
	if err != nil {
		logger.Warn("Worker output unreadable", "error", err)
		// Keep the pipe drained so the worker never blocks on a write.
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	switch {
	case waitErr == nil:
		logger.Debug("Worker finished", "duration", elapsed)
		return nil
	case ctx.Err() != nil:
		logger.Info("Worker cancelled", "duration", elapsed)
		return ctx.Err()
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		logger.Warn("Worker timed out", "timeout", timeout)
		return apperrors.StageTimeout(string(spec.Stage), timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		tail := stderr.String()
		logger.Warn("Worker failed", "exitCode", exitErr.ExitCode(), "stderr", tail)
		return apperrors.WorkerFailure(string(spec.Stage), exitErr.ExitCode(), tail)
	}
	return apperrors.Internal("worker.wait", waitErr)
}

// readLines calls fn for every line of r until EOF. Lines longer than limit
// are discarded whole and counted instead of ending the read.
func readLines(r io.Reader, limit int, fn func(string)) (skipped int, err error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if len(line) > limit {
				oversized, line = true, line[:0]
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err != nil && err != io.EOF:
			return skipped, err
		}

		if oversized {
			skipped++
		} else if len(line) > 0 {
			fn(strings.TrimRight(string(line), "\r\n"))
		}
		line, oversized = line[:0], false
		if err == io.EOF {
			return skipped, nil
		}
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
