// internal/browser/htmldom/document.go
//
// Package htmldom implements dom.Tree over a parsed HTML document held in memory.
// It backs dry runs against saved page snapshots and lets the engine be exercised
// without a browser. Page logic (the conditional rendering a real front-end would do)
// is simulated through Behaviors registered on the document.
package htmldom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// Event records one synthetic event dispatched on an element.
type Event struct {
	Handle string
	Type   string
}

// Behavior simulates page logic reacting to an event. It runs with the document lock held
// and may mutate any node reachable from root directly; it must not call Document methods.
type Behavior func(root, target *html.Node, eventType string)

// Document is an in-memory element tree.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	focused   *html.Node
	events    []Event
	behaviors []Behavior
	subs      map[chan struct{}]struct{}
}

var _ dom.Tree = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root, subs: make(map[chan struct{}]struct{})}, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Load parses the HTML file at path (a leading ~ is expanded).
func Load(path string) (*Document, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve snapshot path '%s': %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("could not open snapshot: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// On registers page logic.
func (d *Document) On(b Behavior) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behaviors = append(d.behaviors, b)
}

// Mutate applies an external change (the page re-rendering on its own) and notifies observers.
func (d *Document) Mutate(fn func(root *html.Node)) {
	d.mu.Lock()
	fn(d.root)
	d.mu.Unlock()
	d.notify()
}

// Events returns a copy of every event dispatched so far.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Render serializes the current state, values and checked flags included.
func (d *Document) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return ""
	}
	return buf.String()
}

// Query implements dom.Tree.
func (d *Document) Query(ctx context.Context, xpath string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryLocked(d.root, xpath)
}

// QueryWithin implements dom.Tree.
func (d *Document) QueryWithin(ctx context.Context, scope dom.Element, xpath string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	el, ok := scope.(*element)
	if !ok || el.doc != d {
		return nil, fmt.Errorf("scope element does not belong to this document")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !attached(el.node) {
		return nil, dom.ErrDetached
	}
	return d.queryLocked(el.node, xpath)
}

func (d *Document) queryLocked(from *html.Node, xpath string) ([]dom.Element, error) {
	nodes, err := htmlquery.QueryAll(from, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", xpath, err)
	}
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, d.snapshot(n))
	}
	return out, nil
}

// Observe implements dom.Tree.
func (d *Document) Observe(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// notify wakes every observer without blocking; a full buffer already carries a pending wake-up.
func (d *Document) notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// dispatchLocked records events and lets page logic react to them.
func (d *Document) dispatchLocked(n *html.Node, types ...string) {
	handle := GenerateUniqueXPath(n)
	for _, t := range types {
		d.events = append(d.events, Event{Handle: handle, Type: t})
		for _, b := range d.behaviors {
			b(d.root, n, t)
		}
	}
}

// attached reports whether n is still reachable from a document node.
func attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}
