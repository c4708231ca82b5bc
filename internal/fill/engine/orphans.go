// internal/fill/engine/orphans.go
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// orphans lists the field keys of visible, interactive containers that no resolved key
// accounts for, in document order.
func (r *Run) orphans(ctx context.Context, opts Options) ([]string, error) {
	attr := r.loc.KeyAttribute()
	containers, err := r.tree.Query(ctx, dom.HasAttr(attr))
	if err != nil {
		return []string{}, err
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, c := range containers {
		key := c.Attr(attr)
		if key == "" || seen[key] || !c.Visible() {
			continue
		}
		seen[key] = true
		if r.accounted(key, opts) {
			continue
		}
		ok, err := r.interactive(ctx, c)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// accounted reports whether a touched key covers key, either through its strategy's
// declared coverage or, when enabled, by key extending a touched key across "_".
func (r *Run) accounted(key string, opts Options) bool {
	if r.covered[key] {
		return true
	}
	if !opts.OrphanPrefixMatch {
		return false
	}
	for _, t := range r.touched {
		if strings.HasPrefix(key, t+"_") {
			return true
		}
	}
	return false
}

func (r *Run) interactive(ctx context.Context, c dom.Element) (bool, error) {
	if c.Kind().Fillable() {
		return true, nil
	}
	inner, err := r.tree.QueryWithin(ctx, c, dom.FillableXPath)
	if err != nil {
		if errors.Is(err, dom.ErrDetached) {
			return false, nil
		}
		return false, err
	}
	_, ok := dom.FirstVisible(inner)
	return ok, nil
}
