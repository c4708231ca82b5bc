// internal/browser/htmldom/element.go
package htmldom

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// element is a captured view of a node. Actions write through to the node and refresh the view.
type element struct {
	doc     *Document
	node    *html.Node
	handle  string
	tag     string
	kind    dom.Kind
	attrs   map[string]string
	value   string
	checked bool
	visible bool
	text    string
	options []dom.Option
}

var _ dom.Element = (*element)(nil)

// snapshot captures n; the caller holds the document lock.
func (d *Document) snapshot(n *html.Node) *element {
	el := &element{doc: d, node: n}
	el.capture()
	return el
}

func (e *element) capture() {
	n := e.node
	e.handle = GenerateUniqueXPath(n)
	e.tag = strings.ToLower(n.Data)
	e.attrs = make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		e.attrs[a.Key] = a.Val
	}
	e.kind = dom.ClassifyKind(e.tag, e.attrs["type"])
	e.visible = isRendered(n)
	e.text = collapse(htmlquery.InnerText(n))

	_, e.checked = e.attrs["checked"]
	switch e.kind {
	case dom.KindTextArea:
		e.value = htmlquery.InnerText(n)
	case dom.KindSelect:
		e.options = readOptions(n)
		e.value = ""
		for _, o := range e.options {
			if o.Selected {
				e.value = o.Value
				break
			}
		}
	default:
		e.value = e.attrs["value"]
	}
}

func (e *element) Handle() string          { return e.handle }
func (e *element) Tag() string             { return e.tag }
func (e *element) Kind() dom.Kind          { return e.kind }
func (e *element) Attr(name string) string { return e.attrs[name] }
func (e *element) Value() string           { return e.value }
func (e *element) Checked() bool           { return e.checked }
func (e *element) Visible() bool           { return e.visible }
func (e *element) Text() string            { return e.text }

func (e *element) Options() []dom.Option {
	out := make([]dom.Option, len(e.options))
	copy(out, e.options)
	return out
}

// act runs a mutation under the document lock, refreshes the captured view and notifies observers.
func (e *element) act(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := e.doc
	d.mu.Lock()
	if !attached(e.node) {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	err := fn()
	if attached(e.node) {
		e.capture()
	}
	d.mu.Unlock()
	d.notify()
	return err
}

func (e *element) SetValue(ctx context.Context, value string) error {
	return e.act(ctx, func() error {
		e.writeValue(value)
		e.doc.dispatchLocked(e.node, "input", "change", "blur")
		return nil
	})
}

func (e *element) TypeText(ctx context.Context, text string) error {
	return e.act(ctx, func() error {
		e.doc.focused = e.node
		e.doc.dispatchLocked(e.node, "focus")
		e.writeValue("")
		var typed strings.Builder
		for _, r := range text {
			typed.WriteRune(r)
			e.doc.dispatchLocked(e.node, "keydown")
			e.writeValue(typed.String())
			e.doc.dispatchLocked(e.node, "input", "keyup")
		}
		return nil
	})
}

func (e *element) Click(ctx context.Context) error {
	return e.act(ctx, func() error {
		n := e.node
		switch dom.ClassifyKind(n.Data, htmlquery.SelectAttr(n, "type")) {
		case dom.KindCheckbox:
			if hasAttr(n, "checked") {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "")
			}
			e.doc.dispatchLocked(n, "click", "input", "change")
		case dom.KindRadio:
			name := htmlquery.SelectAttr(n, "name")
			if name != "" {
				for _, peer := range htmlquery.Find(e.doc.root, dom.RadioGroup(name)) {
					removeAttr(peer, "checked")
				}
			}
			setAttr(n, "checked", "")
			e.doc.dispatchLocked(n, "click", "input", "change")
		default:
			e.doc.dispatchLocked(n, "click")
		}
		return nil
	})
}

func (e *element) SelectOption(ctx context.Context, index int) error {
	return e.act(ctx, func() error {
		opts := htmlquery.Find(e.node, ".//option")
		if index < 0 || index >= len(opts) {
			return fmt.Errorf("option index %d out of range (%d options)", index, len(opts))
		}
		for i, o := range opts {
			if i == index {
				setAttr(o, "selected", "")
			} else {
				removeAttr(o, "selected")
			}
		}
		e.doc.dispatchLocked(e.node, "input", "change", "blur")
		return nil
	})
}

func (e *element) Focus(ctx context.Context) error {
	return e.act(ctx, func() error {
		e.doc.focused = e.node
		e.doc.dispatchLocked(e.node, "focus", "input")
		return nil
	})
}

// writeValue stores the value where the serialized document shows it.
func (e *element) writeValue(v string) {
	n := e.node
	if strings.EqualFold(n.Data, "textarea") {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		if v != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
		}
		return
	}
	setAttr(n, "value", v)
}

func readOptions(sel *html.Node) []dom.Option {
	nodes := htmlquery.Find(sel, ".//option")
	out := make([]dom.Option, 0, len(nodes))
	for i, n := range nodes {
		text := collapse(htmlquery.InnerText(n))
		value, ok := attr(n, "value")
		if !ok {
			value = text
		}
		disabled := hasAttr(n, "disabled")
		if !disabled && n.Parent != nil && strings.EqualFold(n.Parent.Data, "optgroup") {
			disabled = hasAttr(n.Parent, "disabled")
		}
		out = append(out, dom.Option{
			Index:    i,
			Value:    value,
			Text:     text,
			Selected: hasAttr(n, "selected"),
			Disabled: disabled,
		})
	}
	// A single-choice list with nothing marked shows its first enabled option.
	if hasAttr(sel, "multiple") {
		return out
	}
	first := -1
	for i, o := range out {
		if o.Selected {
			return out
		}
		if first < 0 && !o.Disabled {
			first = i
		}
	}
	if first >= 0 {
		out[first].Selected = true
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
