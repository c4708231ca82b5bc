// internal/browser/dom/tree.go
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrDetached is returned by element actions when the handle no longer refers to a node
// in the live tree (the page replaced or removed it after the lookup).
var ErrDetached = errors.New("element is detached from the document")

// Kind classifies an element by the way it must be driven.
type Kind string

const (
	KindNone     Kind = ""
	KindCheckbox Kind = "checkbox"
	KindRadio    Kind = "radio"
	KindSelect   Kind = "select"
	KindText     Kind = "text"
	KindTextArea Kind = "textarea"
)

// Fillable reports whether the kind denotes a control that accepts a value.
func (k Kind) Fillable() bool {
	return k != KindNone
}

// Option describes one <option> of a select element.
type Option struct {
	Index    int
	Value    string
	Text     string
	Selected bool
	Disabled bool
}

// Element is a transient, non-owning handle into the element tree.
//
// Read accessors return the state captured when the handle was obtained; successful actions
// update that captured state so a caller holding the handle observes its own writes.
// Handles must never be kept across scan cycles: the page may replace the node at any time.
type Element interface {
	// Handle identifies the node within the tree that produced it.
	Handle() string
	// Tag is the lower-case element name.
	Tag() string
	Kind() Kind
	Attr(name string) string
	Value() string
	Checked() bool
	// Visible reports layout presence: false when the element or an ancestor has no rendered box.
	Visible() bool
	Text() string
	Options() []Option

	// SetValue assigns the raw value and announces it with input, change and blur events.
	SetValue(ctx context.Context, value string) error
	// TypeText replaces the value through key-typed input so suggestion lists get triggered.
	TypeText(ctx context.Context, text string) error
	Click(ctx context.Context) error
	SelectOption(ctx context.Context, index int) error
	// Focus focuses the element and re-announces its current value with an input event.
	Focus(ctx context.Context) error
}

// Tree is the externally owned, externally mutated element tree. Queries are XPath 1.0.
type Tree interface {
	Query(ctx context.Context, xpath string) ([]Element, error)
	// QueryWithin evaluates a relative XPath (".//...") with scope as the context node.
	QueryWithin(ctx context.Context, scope Element, xpath string) ([]Element, error)
	// Observe subscribes to structural and attribute mutations under the document body.
	// Notifications are coalesced: one value on the channel stands for one or more changes.
	// The channel is closed once ctx is done.
	Observe(ctx context.Context) (<-chan struct{}, error)
}

// ClassifyKind maps a tag name and input type onto a Kind.
func ClassifyKind(tag, inputType string) Kind {
	switch strings.ToLower(tag) {
	case "select":
		return KindSelect
	case "textarea":
		return KindTextArea
	case "input":
		switch strings.ToLower(strings.TrimSpace(inputType)) {
		case "checkbox":
			return KindCheckbox
		case "radio":
			return KindRadio
		case "hidden", "submit", "button", "reset", "image", "file":
			return KindNone
		default:
			return KindText
		}
	}
	return KindNone
}

// FirstVisible returns the first visible element of els.
func FirstVisible(els []Element) (Element, bool) {
	for _, el := range els {
		if el != nil && el.Visible() {
			return el, true
		}
	}
	return nil, false
}
