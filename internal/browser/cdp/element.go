// internal/browser/cdp/element.go
package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// element is the snapshot of a live node plus the registry id the agent gave it.
type element struct {
	tree *Tree
	s    snapshot
	kind dom.Kind
}

var _ dom.Element = (*element)(nil)

func (t *Tree) wrap(s snapshot) *element {
	if s.Attrs == nil {
		s.Attrs = map[string]string{}
	}
	return &element{tree: t, s: s, kind: dom.ClassifyKind(s.Tag, s.Attrs["type"])}
}

func (e *element) Handle() string          { return e.s.ID }
func (e *element) Tag() string             { return e.s.Tag }
func (e *element) Kind() dom.Kind          { return e.kind }
func (e *element) Attr(name string) string { return e.s.Attrs[name] }
func (e *element) Value() string           { return e.s.Value }
func (e *element) Checked() bool           { return e.s.Checked }
func (e *element) Visible() bool           { return e.s.Visible }
func (e *element) Text() string            { return e.s.Text }

func (e *element) Options() []dom.Option {
	out := make([]dom.Option, len(e.s.Options))
	copy(out, e.s.Options)
	return out
}

// act runs an agent action on the node and refreshes the snapshot from the result.
func (e *element) act(ctx context.Context, action string, arg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var res actResult
	if err := e.tree.call(ctx, &res, "act", e.s.ID, action, arg); err != nil {
		return err
	}
	return e.apply(action, res)
}

func (e *element) apply(action string, res actResult) error {
	switch {
	case res.Detached:
		return fmt.Errorf("%s on %s: %w", action, e.s.ID, dom.ErrDetached)
	case res.Error != "":
		return fmt.Errorf("%s on %s: %s", action, e.s.ID, res.Error)
	case res.Element == nil:
		return errors.New("agent returned no element state")
	}
	e.s = *res.Element
	if e.s.Attrs == nil {
		e.s.Attrs = map[string]string{}
	}
	e.kind = dom.ClassifyKind(e.s.Tag, e.s.Attrs["type"])
	return nil
}

func (e *element) SetValue(ctx context.Context, value string) error {
	return e.act(ctx, "setValue", value)
}

// TypeText focuses and clears the control, then sends real key events so the page's
// keyboard handlers (autocomplete lookups in particular) run as they would for a user.
func (e *element) TypeText(ctx context.Context, text string) error {
	if err := e.act(ctx, "clear", nil); err != nil {
		return err
	}
	err := e.tree.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		for _, r := range text {
			key := string(r)
			if err := input.DispatchKeyEvent(input.KeyDown).WithKey(key).WithText(key).WithUnmodifiedText(key).Do(c); err != nil {
				return err
			}
			if err := input.DispatchKeyEvent(input.KeyUp).WithKey(key).Do(c); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("typing into %s: %w", e.s.ID, err)
	}
	return e.act(ctx, "read", nil)
}

func (e *element) Click(ctx context.Context) error {
	return e.act(ctx, "click", nil)
}

func (e *element) SelectOption(ctx context.Context, index int) error {
	if index < 0 || index >= len(e.s.Options) {
		return fmt.Errorf("option index %d out of range (%d options)", index, len(e.s.Options))
	}
	return e.act(ctx, "select", index)
}

func (e *element) Focus(ctx context.Context) error {
	return e.act(ctx, "focus", nil)
}
