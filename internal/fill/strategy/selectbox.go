// internal/fill/strategy/selectbox.go
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Select picks a dropdown option: exact value first, then a substring of the visible text.
type Select struct{ Base }

func (Select) Name() string { return "select" }

func (Select) Matches(_ string, el dom.Element, _ Data) bool {
	return el != nil && el.Kind() == dom.KindSelect
}

func (Select) Execute(ctx context.Context, _ Env, el dom.Element, value any, key string, _ Data) (Outcome, error) {
	target, err := cast.ToStringE(value)
	if err != nil {
		return Failed, fmt.Errorf("select target %v is not a scalar: %w", value, err)
	}

	opt, ok := pickOption(el.Options(), target)
	if !ok {
		return Failed, fmt.Errorf("no option of '%s' matches %q", key, target)
	}
	if opt.Selected {
		return AlreadySatisfied, nil
	}
	if err := el.SelectOption(ctx, opt.Index); err != nil {
		return Failed, fmt.Errorf("select option %d: %w", opt.Index, err)
	}
	return Filled, nil
}

func pickOption(opts []dom.Option, target string) (dom.Option, bool) {
	for _, o := range opts {
		if !o.Disabled && o.Value == target {
			return o, true
		}
	}
	if target == "" {
		return dom.Option{}, false
	}
	for _, o := range opts {
		if !o.Disabled && strings.Contains(o.Text, target) {
			return o, true
		}
	}
	return dom.Option{}, false
}
