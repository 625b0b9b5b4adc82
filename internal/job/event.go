package job

import (
	"slices"

	"github.com/google/uuid"

	"docpipe/pkg/cloudevent"
)

// Event types for job webhook callbacks
const (
	EventTypeCompleted = "docpipe.job.completed"
	EventTypeFailed    = "docpipe.job.failed"
	EventTypeCancelled = "docpipe.job.cancelled"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventTypeFor maps a terminal state to its webhook event type.
func EventTypeFor(state TerminalState) string {
	switch state {
	case TerminalCompleted:
		return EventTypeCompleted
	case TerminalCancelled:
		return EventTypeCancelled
	default:
		return EventTypeFailed
	}
}

// BuildTerminalEvent creates the webhook CloudEvent for a finished job.
func BuildTerminalEvent(source string, rec Record) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":      rec.ID,
		"mode":       string(rec.Mode),
		"state":      string(rec.State),
		"files":      rec.Files,
		"durationMs": rec.Duration().Milliseconds(),
	}
	if len(rec.Artifacts) > 0 {
		data["artifacts"] = rec.Artifacts
	}
	if rec.FallbackUsed {
		data["fallbackUsed"] = true
	}
	if rec.Error != "" {
		data["error"] = rec.Error
		data["errorCode"] = rec.ErrorCode
	}
	return cloudevent.New(EventTypeFor(rec.State), source, rec.ID, uuid.NewString(), data)
}
