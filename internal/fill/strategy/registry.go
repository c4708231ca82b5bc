// internal/fill/strategy/registry.go
package strategy

import (
	"fmt"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Registry is an ordered list of strategies. Order encodes priority: composites first,
// then the generic strategies from the most specific control type to the catch-all.
// A Registry is built once and only read afterwards; it is safe for concurrent reads.
type Registry struct {
	strategies []Strategy
}

// NewRegistry returns a registry holding the given strategies in order.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register appends a strategy. It must not be called once the registry is in use.
func (r *Registry) Register(s Strategy) {
	if s == nil {
		return
	}
	r.strategies = append(r.strategies, s)
}

// Strategies returns the registered strategies in resolution order.
func (r *Registry) Strategies() []Strategy {
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Resolve returns the first strategy whose structural test and business gate both hold,
// or nil. Exactly one strategy is selected; there is no fallback chaining.
// Passing a nil element performs key-only resolution.
func (r *Registry) Resolve(key string, el dom.Element, data Data) Strategy {
	for _, s := range r.strategies {
		if s.Matches(key, el, data) && s.Active(key, data) {
			return s
		}
	}
	return nil
}

// Generic returns the per-control-type strategies in their registration order.
func Generic() []Strategy {
	return []Strategy{Checkbox{}, NewRadioGroup(), Select{}, TextInput{}}
}

// DefaultRegistry builds the standard registry: one composite per spec, then the generic strategies.
func DefaultRegistry(specs []CompositeSpec, opts CompositeOptions) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range specs {
		c, err := NewComposite(spec, opts)
		if err != nil {
			return nil, fmt.Errorf("composite %q: %w", spec.Kind, err)
		}
		r.Register(c)
	}
	for _, s := range Generic() {
		r.Register(s)
	}
	return r, nil
}
