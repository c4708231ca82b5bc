// internal/fill/locator/locator.go
//
// Package locator finds the interactive control bound to a field key in the live tree.
package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// DefaultKeyAttribute is the attribute tagging a container with its field key.
const DefaultKeyAttribute = "data-key"

// Locator resolves field keys against a tree. It holds no element state: every call
// re-queries the tree, because strategies and page logic replace nodes at any time.
type Locator struct {
	tree    dom.Tree
	keyAttr string
}

// New returns a locator over tree. An empty keyAttr selects DefaultKeyAttribute.
func New(tree dom.Tree, keyAttr string) *Locator {
	if keyAttr == "" {
		keyAttr = DefaultKeyAttribute
	}
	return &Locator{tree: tree, keyAttr: keyAttr}
}

// KeyAttribute returns the attribute containers are tagged with.
func (l *Locator) KeyAttribute() string { return l.keyAttr }

// Locate returns the visible control for key. found is false when the control is absent
// or has no rendered box; both mean "not fillable yet".
//
// Lookup order:
//  1. a container tagged with the key: the container itself when it is fillable, otherwise
//     its first visible fillable descendant;
//  2. an element whose id or name equals the key.
func (l *Locator) Locate(ctx context.Context, key string) (dom.Element, bool, error) {
	containers, err := l.tree.Query(ctx, dom.ByAttr(l.keyAttr, key))
	if err != nil {
		return nil, false, fmt.Errorf("query containers for '%s': %w", key, err)
	}
	for _, c := range containers {
		if c.Kind().Fillable() {
			if c.Visible() {
				return c, true, nil
			}
			continue
		}
		if !c.Visible() {
			continue
		}
		inner, err := l.tree.QueryWithin(ctx, c, dom.FillableXPath)
		if err != nil {
			if errors.Is(err, dom.ErrDetached) {
				continue
			}
			return nil, false, fmt.Errorf("query controls within '%s': %w", key, err)
		}
		if el, ok := dom.FirstVisible(inner); ok {
			return el, true, nil
		}
	}
	if len(containers) > 0 {
		return nil, false, nil
	}

	fallback, err := l.tree.Query(ctx, dom.ByIDOrName(key))
	if err != nil {
		return nil, false, fmt.Errorf("query '%s' by id or name: %w", key, err)
	}
	if el, ok := dom.FirstVisible(fallback); ok {
		return el, true, nil
	}
	return nil, false, nil
}
