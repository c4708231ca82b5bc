// internal/fill/strategy/strategy.go
//
// Package strategy defines the fill strategies that drive one class of control each,
// and the ordered registry that resolves which of them applies to a key.
package strategy

import (
	"context"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Data is the full, coerced data context of a run. Strategies read sibling fields from it
// (a composite reads its postal code even though that key is never filled directly).
type Data map[string]any

// Bool coerces a field to a boolean; absent or unparsable fields are false.
func (d Data) Bool(key string) bool {
	v, ok := d[key]
	if !ok || v == nil {
		return false
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}

// String coerces a field to a string; absent fields are empty.
func (d Data) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// Phase is the sub-state of one composite instance.
type Phase string

const (
	PhaseGating    Phase = "gating"
	PhaseTyping    Phase = "typing"
	PhaseAwaiting  Phase = "awaiting-suggestions"
	PhaseDone      Phase = "done"
	phaseUnstarted Phase = ""
)

// CompositeState is the per-run progress of one composite pivot key.
// It belongs to the run, never to the strategy value.
type CompositeState struct {
	Phase  Phase
	Nudges int
}

// Env is what the execution loop lends a strategy for the duration of one Execute call.
type Env interface {
	// Locate finds the visible control for a field key. found is false when it is absent or hidden.
	Locate(ctx context.Context, key string) (el dom.Element, found bool, err error)
	Tree() dom.Tree
	// Sleep pauses the calling strategy; it returns early with ctx's error on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	Logger() *zap.Logger
	// Composite returns the mutable progress record of a composite pivot key.
	Composite(key string) *CompositeState
}

// Strategy drives one class of control. Implementations are stateless values.
type Strategy interface {
	Name() string
	// Matches is the structural applicability test. el is nil on key-only resolution.
	Matches(key string, el dom.Element, data Data) bool
	// Active is the business-rule gate.
	Active(key string, data Data) bool
	// IgnoredKeys lists auxiliary keys this strategy derives internally.
	IgnoredKeys(key string) []string
	// Covers lists the keys a resolved key accounts for in the orphan diagnostic.
	Covers(key string) []string
	// Execute performs the side-effecting action. el is nil for key-only strategies.
	Execute(ctx context.Context, env Env, el dom.Element, value any, key string, data Data) (Outcome, error)
}

// Base supplies the optional parts of the Strategy interface.
type Base struct{}

func (Base) Active(string, Data) bool { return true }

func (Base) IgnoredKeys(string) []string { return nil }

func (Base) Covers(key string) []string { return []string{key} }
