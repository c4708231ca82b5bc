// internal/fill/strategy/checkbox.go
package strategy

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Checkbox toggles a checkbox toward a boolean target.
type Checkbox struct{ Base }

func (Checkbox) Name() string { return "checkbox" }

func (Checkbox) Matches(_ string, el dom.Element, _ Data) bool {
	return el != nil && el.Kind() == dom.KindCheckbox
}

func (Checkbox) Execute(ctx context.Context, _ Env, el dom.Element, value any, _ string, _ Data) (Outcome, error) {
	want, err := cast.ToBoolE(value)
	if err != nil {
		return Failed, fmt.Errorf("checkbox target %v is not a boolean: %w", value, err)
	}
	if el.Checked() == want {
		return AlreadySatisfied, nil
	}
	if err := el.Click(ctx); err != nil {
		return Failed, fmt.Errorf("click checkbox: %w", err)
	}
	if el.Checked() != want {
		return Failed, fmt.Errorf("checkbox state did not change after click")
	}
	return Filled, nil
}
