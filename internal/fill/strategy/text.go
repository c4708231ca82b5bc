// internal/fill/strategy/text.go
package strategy

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// TextInput is the catch-all for any fillable control no more specific strategy claimed.
type TextInput struct{ Base }

func (TextInput) Name() string { return "text-input" }

func (TextInput) Matches(_ string, el dom.Element, _ Data) bool {
	return el != nil && el.Kind().Fillable()
}

func (TextInput) Execute(ctx context.Context, _ Env, el dom.Element, value any, _ string, _ Data) (Outcome, error) {
	target, err := cast.ToStringE(value)
	if err != nil {
		return Failed, fmt.Errorf("text target %v is not a scalar: %w", value, err)
	}
	if el.Value() == target {
		return AlreadySatisfied, nil
	}
	if err := el.SetValue(ctx, target); err != nil {
		return Failed, fmt.Errorf("set value: %w", err)
	}
	return Filled, nil
}
