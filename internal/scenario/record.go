// internal/scenario/record.go
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrMalformed marks input that is not a well-formed scenario record. A run is never started for it.
var ErrMalformed = errors.New("malformed scenario record")

// Options name the well-known keys of the wrapper form.
type Options struct {
	// DataKey is the sub-key holding the field map in the wrapper form (e.g. "donnees").
	DataKey string
	// CodeKey carries the procedure code used to derive the target page.
	CodeKey string
}

// DefaultOptions matches the scenario files exported by the procedure dashboard.
func DefaultOptions() Options {
	return Options{DataKey: "donnees", CodeKey: "codeDemarche"}
}

// Record is an immutable scenario: field-key to value, in document order.
type Record struct {
	// Code is the procedure code, empty when the record does not carry one.
	Code string
	// Wrapped is true when the fields came from the DataKey sub-object.
	Wrapped bool

	fields *orderedmap.OrderedMap[string, any]
}

// Field is one key/value pair of a record.
type Field struct {
	Key   string
	Value any
}

// Fields returns the record's pairs in document order.
func (r *Record) Fields() []Field {
	out := make([]Field, 0, r.fields.Len())
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		out = append(out, Field{Key: p.Key, Value: p.Value})
	}
	return out
}

// Len is the number of fields.
func (r *Record) Len() int { return r.fields.Len() }

// Get returns the raw value of a field.
func (r *Record) Get(key string) (any, bool) { return r.fields.Get(key) }

// NewRecord builds a record from pairs; later duplicates overwrite earlier values in place.
func NewRecord(code string, fields ...Field) *Record {
	om := orderedmap.New[string, any]()
	for _, f := range fields {
		om.Set(f.Key, f.Value)
	}
	return &Record{Code: code, fields: om}
}

// Parse validates and decodes a scenario. It accepts either a flat field map or a wrapper
// object holding the field map under opts.DataKey.
func Parse(data []byte, opts Options) (*Record, error) {
	if opts.DataKey == "" {
		opts.DataKey = DefaultOptions().DataKey
	}
	if err := validate(data, opts); err != nil {
		return nil, err
	}

	top := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rec := &Record{fields: orderedmap.New[string, any]()}
	rec.Code = codeFrom(top, opts.CodeKey)

	if raw, ok := top.Get(opts.DataKey); ok {
		rec.Wrapped = true
		if err := json.Unmarshal(raw, rec.fields); err != nil {
			return nil, fmt.Errorf("%w: field map: %v", ErrMalformed, err)
		}
		// A code nested in the field map is metadata too, never a form field.
		if opts.CodeKey != "" {
			if v, ok := rec.fields.Delete(opts.CodeKey); ok && rec.Code == "" {
				rec.Code, _ = v.(string)
			}
		}
		return rec, nil
	}

	// Flat form: the procedure code is metadata, not a form field.
	for p := top.Oldest(); p != nil; p = p.Next() {
		if opts.CodeKey != "" && p.Key == opts.CodeKey {
			continue
		}
		var v any
		if err := json.Unmarshal(p.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformed, p.Key, err)
		}
		rec.fields.Set(p.Key, v)
	}
	return rec, nil
}

// Load reads and parses a scenario file (a leading ~ is expanded).
func Load(path string, opts Options) (*Record, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve scenario path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("could not read scenario: %w", err)
	}
	return Parse(data, opts)
}

// TargetURL derives the procedure page from the base URL and the record's code.
func (r *Record) TargetURL(base string) (string, error) {
	if r.Code == "" {
		return "", fmt.Errorf("scenario carries no procedure code; pass the page URL explicitly")
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", base)
	}
	return u.JoinPath("mademarche", r.Code, "demarche").String(), nil
}

func codeFrom(top *orderedmap.OrderedMap[string, json.RawMessage], codeKey string) string {
	if codeKey == "" {
		return ""
	}
	raw, ok := top.Get(codeKey)
	if !ok {
		return ""
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return ""
	}
	return code
}
