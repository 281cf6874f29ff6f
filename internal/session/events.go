package session

import (
	"time"

	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

// State of the session state machine.
type State int32

const (
	StateIdle State = iota
	StateAwaitingDiscovery
	StateRunning
	StateFinishing
	StateCompleted
	StateCancelled
	StateError
)

var stateNames = [...]string{"idle", "awaiting-discovery", "running", "finishing", "completed", "cancelled", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// Result describes a finished session. Readings is a copy of the full
// sequence taken before the live buffer was cleared.
type Result struct {
	SessionID  string
	Outcome    Outcome
	Err        error
	Device     telemetry.Device
	Params     Parameters
	Summary    *stats.Summary
	Readings   telemetry.Series
	ExportPath string
	StartedAt  time.Time
	FinishedAt time.Time
}

// EventKind distinguishes controller notifications.
type EventKind int

const (
	EventProgress EventKind = iota
	EventState
	EventFinished
)

// Event is a one-way notification from the session goroutine.
// Text is set for EventProgress, State for EventState and Result for EventFinished.
type Event struct {
	Kind      EventKind
	SessionID string
	Text      string
	State     State
	Result    *Result
	Time      time.Time
}
