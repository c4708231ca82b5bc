// internal/browser/htmldom/layout.go
package htmldom

import (
	"strings"

	"golang.org/x/net/html"
)

// nonRendered lists elements that never produce a layout box.
var nonRendered = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"template": true,
	"noscript": true,
}

// isRendered approximates layout presence without a layout engine: the node and every
// ancestor must be free of the hidden attribute and of inline display:none or
// visibility:hidden. Hidden inputs never render.
func isRendered(n *html.Node) bool {
	if strings.EqualFold(n.Data, "input") {
		if t, _ := attr(n, "type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}
	for p := n; p != nil && p.Type != html.DocumentNode; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if nonRendered[strings.ToLower(p.Data)] || hasAttr(p, "hidden") {
			return false
		}
		if style, ok := attr(p, "style"); ok && hidesBox(style) {
			return false
		}
	}
	return true
}

func hidesBox(style string) bool {
	compact := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// Show removes the hidden attribute from n. Intended for Behaviors.
func Show(n *html.Node) { removeAttr(n, "hidden") }

// Hide sets the hidden attribute on n. Intended for Behaviors.
func Hide(n *html.Node) { setAttr(n, "hidden", "") }

// SetAttr exposes attribute writes to Behaviors.
func SetAttr(n *html.Node, key, val string) { setAttr(n, key, val) }

// Attr exposes attribute reads to Behaviors.
func Attr(n *html.Node, key string) string {
	v, _ := attr(n, key)
	return v
}
