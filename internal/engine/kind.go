// Package engine manages the lifecycle of locally hosted inference engines.
//
// Each engine kind has one shared handle. Starting is idempotent and coalesced
// across callers; transitions for a kind are serialized; engines are stopped
// when no job needs them so GPU memory is returned between jobs.
package engine

import (
	"strings"
)

// Kind names an engine implementation.
type Kind string

// Engine kinds.
const (
	KindNexa   Kind = "nexa"   // engine A
	KindOllama Kind = "ollama" // engine B
)

// ParseKind accepts a kind name or its letter alias.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nexa", "a":
		return KindNexa, true
	case "ollama", "b":
		return KindOllama, true
	}
	return "", false
}

// KindForModel routes a model identifier to the engine that serves it.
// GGUF builds and NexaAI models run on engine A, everything else on engine B.
func KindForModel(model string) Kind {
	if model == "" || strings.Contains(model, "NexaAI") || strings.Contains(model, "GGUF") {
		return KindNexa
	}
	return KindOllama
}

// State is the lifecycle state of an engine handle.
type State string

// Engine states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopping State = "stopping"
)
