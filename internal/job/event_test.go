package job

import (
	"testing"
	"time"
)

func TestFilteredEvents(t *testing.T) {
	t.Parallel()
	if !FilteredEvents(EventTypeCompleted, nil) {
		t.Error("empty filter should allow all events")
	}
	if FilteredEvents(EventTypeCompleted, []string{EventTypeFailed}) {
		t.Error("filter should reject unlisted event")
	}
	if !FilteredEvents(EventTypeFailed, []string{EventTypeFailed}) {
		t.Error("filter should allow listed event")
	}
}

func TestBuildTerminalEvent(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Record{
		ID:         "job-1",
		Mode:       ModeOCR,
		State:      TerminalFailed,
		Error:      "engine nexa did not become ready after 15 attempts",
		ErrorCode:  "engine_startup_timeout",
		Files:      2,
		CreatedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}

	ev := BuildTerminalEvent("docpipe/test", rec)
	if ev.Type != EventTypeFailed {
		t.Errorf("Type = %q, want %q", ev.Type, EventTypeFailed)
	}
	if ev.Subject != "job-1" {
		t.Errorf("Subject = %q, want job-1", ev.Subject)
	}
	if ev.Data["durationMs"] != int64(1500) {
		t.Errorf("durationMs = %v, want 1500", ev.Data["durationMs"])
	}
	if ev.Data["errorCode"] != "engine_startup_timeout" {
		t.Errorf("errorCode = %v", ev.Data["errorCode"])
	}

	done := BuildTerminalEvent("docpipe/test", Record{ID: "job-2", State: TerminalCompleted, Artifacts: []string{"/files/job-2/out.pdf"}})
	if done.Type != EventTypeCompleted {
		t.Errorf("Type = %q, want %q", done.Type, EventTypeCompleted)
	}
	if _, ok := done.Data["error"]; ok {
		t.Error("completed event should not carry an error")
	}
}
