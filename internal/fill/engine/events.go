// internal/fill/engine/events.go
package engine

import (
	"time"

	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
)

// EventType names a notification emitted by a run.
type EventType string

const (
	EventScanStarted EventType = "scan-started"
	EventScanDone    EventType = "scan-done"
	EventOutcome     EventType = "outcome"
	EventDone        EventType = "done"
)

// Event is a notification about a run's progress, for live displays.
type Event struct {
	RunID   string           `json:"run_id"`
	Type    EventType        `json:"type"`
	At      time.Time        `json:"at"`
	Scan    int              `json:"scan,omitempty"`
	Key     string           `json:"key,omitempty"`
	Outcome strategy.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
	Reason  Reason           `json:"reason,omitempty"`
}

// EventSink receives run events. It is called from the run's goroutines and must not block.
type EventSink func(Event)
