// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"
)

// FillableXPath selects fillable controls below the context node, in document order.
const FillableXPath = `.//input[not(@type='hidden') and not(@type='submit') and not(@type='button') and not(@type='reset') and not(@type='image') and not(@type='file')] | .//select | .//textarea`

// Literal renders s as an XPath 1.0 string literal. XPath has no escape sequences,
// so values holding both quote kinds are assembled with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if p != "" {
			args = append(args, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// ByAttr selects any element whose attribute equals value.
func ByAttr(attr, value string) string {
	return fmt.Sprintf("//*[@%s=%s]", attr, Literal(value))
}

// ByIDOrName selects an element whose id or form-field name equals key.
func ByIDOrName(key string) string {
	lit := Literal(key)
	return fmt.Sprintf("//*[@id=%s or @name=%s]", lit, lit)
}

// HasAttr selects every element carrying the attribute.
func HasAttr(attr string) string {
	return fmt.Sprintf("//*[@%s]", attr)
}

// RadioGroup selects radio inputs sharing a group name.
func RadioGroup(name string) string {
	return fmt.Sprintf("//input[@type='radio' and @name=%s]", Literal(name))
}
