// internal/fill/engine/report.go
package engine

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reason is why a run reached DONE.
type Reason string

const (
	ReasonExhausted  Reason = "exhausted"
	ReasonQuiescence Reason = "quiescence-timeout"
	ReasonAborted    Reason = "user-abort"
)

// State is the coarse state of a run.
type State string

const (
	StateIdle     State = "IDLE"
	StateScanning State = "SCANNING"
	StateWaiting  State = "WAITING"
	StateDone     State = "DONE"
)

// Entry logs one key that was resolved.
type Entry struct {
	Key      string           `json:"key"`
	Outcome  strategy.Outcome `json:"outcome"`
	Strategy string           `json:"strategy,omitempty"`
	At       time.Time        `json:"at"`
}

// Report is the terminal artifact of a run. It is assembled during the run and finalized once.
type Report struct {
	RunID  string `json:"run_id"`
	Filled int    `json:"filled"`
	// Reason is empty until the run is done.
	Reason  Reason  `json:"reason,omitempty"`
	Entries []Entry `json:"entries"`
	// Untouched are the orphan field keys: visible controls no resolved key accounts for.
	Untouched []string `json:"untouched"`
	// Pending are the keys still unresolved at termination.
	Pending []string `json:"pending"`
	// Abandoned are the keys that reached the failure cap.
	Abandoned  []string  `json:"abandoned"`
	Scans      int       `json:"scans"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// JSON encodes the report with indentation.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary is the one-line status shown to a human.
func (r *Report) Summary() string {
	switch r.Reason {
	case ReasonAborted:
		return fmt.Sprintf("Stopped after %d field(s) filled.", r.Filled)
	case "":
		return fmt.Sprintf("Running: %d field(s) filled so far.", r.Filled)
	default:
		return fmt.Sprintf("%d field(s) filled (%s).", r.Filled, r.Reason)
	}
}

// Status is a cheap view of a run in progress.
type Status struct {
	RunID   string `json:"run_id"`
	State   State  `json:"state"`
	Scans   int    `json:"scans"`
	Filled  int    `json:"filled"`
	Pending int    `json:"pending"`
	Reason  Reason `json:"reason,omitempty"`
}
