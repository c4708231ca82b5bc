// internal/fill/strategy/radio.go
package strategy

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// RadioGroup activates the member of a radio group whose value equals the target.
type RadioGroup struct {
	Base
	// ValueAttrs are compared in order against the target. Front-end frameworks often keep
	// the business value on a secondary attribute while the native value is generated.
	ValueAttrs []string
}

// NewRadioGroup returns a radio strategy comparing value, then data-value, then ng-reflect-value.
func NewRadioGroup() RadioGroup {
	return RadioGroup{ValueAttrs: []string{"value", "data-value", "ng-reflect-value"}}
}

func (RadioGroup) Name() string { return "radio-group" }

func (RadioGroup) Matches(_ string, el dom.Element, _ Data) bool {
	return el != nil && el.Kind() == dom.KindRadio
}

func (r RadioGroup) Execute(ctx context.Context, env Env, el dom.Element, value any, key string, _ Data) (Outcome, error) {
	target, err := cast.ToStringE(value)
	if err != nil {
		return Failed, fmt.Errorf("radio target %v is not a scalar: %w", value, err)
	}

	members := []dom.Element{el}
	if name := el.Attr("name"); name != "" {
		peers, err := env.Tree().Query(ctx, dom.RadioGroup(name))
		if err != nil {
			return Failed, fmt.Errorf("query radio group %q: %w", name, err)
		}
		if len(peers) > 0 {
			members = peers
		}
	}

	for _, m := range members {
		if !r.carries(m, target) {
			continue
		}
		if m.Checked() {
			return AlreadySatisfied, nil
		}
		if err := m.Click(ctx); err != nil {
			return Failed, fmt.Errorf("click radio %q: %w", target, err)
		}
		return Filled, nil
	}
	return Failed, fmt.Errorf("no option of radio group for '%s' has value %q", key, target)
}

func (r RadioGroup) carries(el dom.Element, target string) bool {
	for _, a := range r.ValueAttrs {
		if v := el.Attr(a); v != "" && v == target {
			return true
		}
	}
	return false
}
