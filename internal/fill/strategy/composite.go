// internal/fill/strategy/composite.go
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// ErrNoSuggestions is returned once the suggestion list failed to show after every nudge.
var ErrNoSuggestions = errors.New("suggestion list never appeared")

// CompositeOptions tune the timing of the composite protocol.
type CompositeOptions struct {
	// Stabilize is the pause before clicking a suggestion, letting the list finish rendering.
	Stabilize time.Duration
	// Settle is the pause after the click before the input is checked.
	Settle time.Duration
	// MaxNudges bounds re-notifications while waiting for the list. Zero means unbounded.
	MaxNudges int
	// Logger receives gate evaluation failures. Nil discards them.
	Logger *zap.Logger
}

// DefaultCompositeOptions returns the timings the address widget needs.
func DefaultCompositeOptions() CompositeOptions {
	return CompositeOptions{Stabilize: time.Second, Settle: 100 * time.Millisecond, MaxNudges: 8}
}

// Composite drives a multi-control widget through gate, type, wait and select.
// It matches on the key alone and locates its own sub-controls.
type Composite struct {
	spec   CompositeSpec
	opts   CompositeOptions
	active *vm.Program

	gateFailure sync.Once
}

// NewComposite compiles a composite spec.
func NewComposite(spec CompositeSpec, opts CompositeOptions) (*Composite, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Composite{spec: spec, opts: opts}
	if spec.ActiveWhen != "" {
		program, err := expr.Compile(spec.ActiveWhen, expr.Env(gateEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile active_when %q: %w", spec.ActiveWhen, err)
		}
		c.active = program
	}
	return c, nil
}

// gateEnv is the environment active_when expressions are evaluated against.
type gateEnv struct {
	Gate   any            `expr:"gate"`
	Prefix string         `expr:"prefix"`
	Key    string         `expr:"key"`
	Data   map[string]any `expr:"data"`
}

func (c *Composite) Name() string { return "composite:" + c.spec.Kind }

// Spec returns the declaration the composite was built from.
func (c *Composite) Spec() CompositeSpec { return c.spec }

func (c *Composite) Matches(key string, _ dom.Element, _ Data) bool {
	return strings.HasSuffix(key, c.spec.PivotSuffix)
}

func (c *Composite) Active(key string, data Data) bool {
	if c.active == nil {
		return true
	}
	prefix := c.prefix(key)
	env := gateEnv{Prefix: prefix, Key: key, Data: data}
	if c.spec.GateSuffix != "" {
		env.Gate = data[prefix+c.spec.GateSuffix]
	}
	out, err := expr.Run(c.active, env)
	if err != nil {
		// A failing gate keeps the composite inactive; the same failure repeats on every key.
		c.gateFailure.Do(func() {
			c.opts.Logger.Warn("Composite gate evaluation failed, treating the composite as inactive.",
				zap.String("kind", c.spec.Kind),
				zap.String("key", key),
				zap.String("active_when", c.spec.ActiveWhen),
				zap.Error(err))
		})
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (c *Composite) IgnoredKeys(key string) []string {
	base := pivotBase(key)
	out := make([]string, 0, len(c.spec.IgnoredSuffixes))
	for _, s := range c.spec.IgnoredSuffixes {
		out = append(out, base+s)
	}
	return out
}

// Covers includes every sub-control key of the widget so none of them is reported as an orphan.
func (c *Composite) Covers(key string) []string {
	prefix := c.prefix(key)
	out := []string{key, prefix + c.spec.InputSuffix}
	if c.spec.GateSuffix != "" {
		out = append(out, prefix+c.spec.GateSuffix)
	}
	for _, s := range c.spec.TargetSuffixes {
		out = append(out, prefix+s)
	}
	return append(out, c.IgnoredKeys(key)...)
}

func (c *Composite) prefix(key string) string {
	return strings.TrimSuffix(key, c.spec.PivotSuffix)
}

// pivotBase drops the last "_segment" of a key.
func pivotBase(key string) string {
	if i := strings.LastIndex(key, "_"); i > 0 {
		return key[:i]
	}
	return key
}

// Execute runs one step of the protocol:
//  1. toggle the gate checkbox open (IN_PROGRESS),
//  2. pick a shown suggestion (FILLED),
//  3. type the target text to trigger suggestions (IN_PROGRESS),
//  4. otherwise nudge the input and keep waiting (IN_PROGRESS).
func (c *Composite) Execute(ctx context.Context, env Env, _ dom.Element, value any, key string, data Data) (Outcome, error) {
	log := env.Logger().With(zap.String("composite", c.spec.Kind), zap.String("key", key))
	state := env.Composite(key)
	prefix := c.prefix(key)
	inputKey := prefix + c.spec.InputSuffix

	// 1. Gate
	if c.spec.GateSuffix != "" {
		gate, found, err := env.Locate(ctx, prefix+c.spec.GateSuffix)
		if err != nil {
			return Failed, fmt.Errorf("locate gate: %w", err)
		}
		if found && gate.Kind() == dom.KindCheckbox && !gate.Checked() {
			log.Debug("Opening composite gate.")
			if err := gate.Click(ctx); err != nil {
				return Failed, fmt.Errorf("click gate: %w", err)
			}
			state.Phase = PhaseGating
			return InProgress, nil
		}
	}

	input, found, err := env.Locate(ctx, inputKey)
	if err != nil {
		return Failed, fmt.Errorf("locate input: %w", err)
	}
	if !found {
		return NotYetPresent, nil
	}

	fragments, target := c.target(value, prefix, data)
	if state.Phase == PhaseDone && containsAny(input.Value(), fragments) {
		return AlreadySatisfied, nil
	}

	// 2. Suggestions
	shown, err := c.suggestions(ctx, env)
	if err != nil {
		return Failed, err
	}
	if len(shown) > 0 {
		return c.pick(ctx, env, log, state, inputKey, shown, fragments)
	}

	// 3. Typing
	if input.Value() != target {
		log.Debug("Typing composite text.", zap.String("text", target))
		if err := input.TypeText(ctx, target); err != nil {
			return Failed, fmt.Errorf("type text: %w", err)
		}
		state.Phase = PhaseTyping
		state.Nudges = 0
		return InProgress, nil
	}

	// 4. Nudge
	state.Phase = PhaseAwaiting
	state.Nudges++
	if c.opts.MaxNudges > 0 && state.Nudges > c.opts.MaxNudges {
		state.Nudges = 0
		return Failed, ErrNoSuggestions
	}
	if err := input.Focus(ctx); err != nil {
		return Failed, fmt.Errorf("focus input: %w", err)
	}
	return InProgress, nil
}

func (c *Composite) pick(ctx context.Context, env Env, log *zap.Logger, state *CompositeState, inputKey string, shown []dom.Element, fragments []string) (Outcome, error) {
	choice := shown[0]
	for _, opt := range shown {
		if containsAny(opt.Text(), fragments) {
			choice = opt
			break
		}
	}
	label := choice.Text()

	log.Debug("Suggestion found, waiting for the list to stabilize.", zap.String("option", label))
	if err := env.Sleep(ctx, c.opts.Stabilize); err != nil {
		return Failed, err
	}
	if err := choice.Click(ctx); err != nil {
		return Failed, fmt.Errorf("click suggestion: %w", err)
	}
	if err := env.Sleep(ctx, c.opts.Settle); err != nil {
		return Failed, err
	}

	// The widget may reject the click silently; force the option text in that case.
	input, found, err := env.Locate(ctx, inputKey)
	if err == nil && found && !containsAny(input.Value(), fragments) {
		log.Debug("Suggestion click did not stick, forcing the value.")
		if err := input.SetValue(ctx, label); err != nil {
			return Failed, fmt.Errorf("force value: %w", err)
		}
	}
	state.Phase = PhaseDone
	state.Nudges = 0
	return Filled, nil
}

// suggestions returns the visible options of the suggestion list.
func (c *Composite) suggestions(ctx context.Context, env Env) ([]dom.Element, error) {
	opts, err := env.Tree().Query(ctx, c.spec.SuggestionXPath)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	shown := opts[:0]
	for _, o := range opts {
		if o.Visible() {
			shown = append(shown, o)
		}
	}
	return shown, nil
}

// target returns the match fragments and the text to type. The text joins every target
// fragment when all of them are present, and falls back to the pivot value otherwise.
func (c *Composite) target(value any, prefix string, data Data) ([]string, string) {
	pivot := cast.ToString(value)
	var fragments []string
	complete := len(c.spec.TargetSuffixes) > 0
	for _, s := range c.spec.TargetSuffixes {
		if f := data.String(prefix + s); f != "" {
			fragments = append(fragments, f)
		} else {
			complete = false
		}
	}
	if !complete {
		if pivot != "" {
			fragments = append(fragments, pivot)
		}
		return fragments, pivot
	}
	return fragments, strings.Join(fragments, " ")
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}
