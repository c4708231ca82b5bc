// internal/fill/normalize/normalize.go
//
// Package normalize turns a scenario record into the flat, ordered fill instructions of a run.
package normalize

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

// Options hold the naming conventions of the record.
type Options struct {
	// LabelSuffixes mark a human-readable label; the suffix is dropped and the label is filled.
	LabelSuffixes []string
	// ValueSuffixes mark a raw value that gives way to a same-prefix label.
	ValueSuffixes []string
}

// DefaultOptions matches the records exported by the procedure dashboard.
func DefaultOptions() Options {
	return Options{
		LabelSuffixes: []string{"_libelle", "_label"},
		ValueSuffixes: []string{"_valeur", "_value"},
	}
}

// DropReason explains why a record key is not a fill instruction.
type DropReason string

const (
	DropEmpty      DropReason = "empty"
	DropIgnored    DropReason = "ignored"
	DropSuperseded DropReason = "superseded-by-label"
)

// Drop records one key left out of the fill instructions.
type Drop struct {
	Key    string
	Reason DropReason
}

// Result is the normalized data of one run.
type Result struct {
	// Fields are the fill instructions in record order.
	Fields []scenario.Field
	// Context is the coerced record, dropped keys included, read by strategies.
	Context strategy.Data
	// Dropped lists the record keys that produced no instruction, in record order.
	Dropped []Drop
}

// Keys returns the field keys in order.
func (r *Result) Keys() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = f.Key
	}
	return out
}

// Normalize builds the fill instructions. It is a pure function of the record, the registry
// and the options: no I/O, no element lookups, and identical inputs give identical results.
//
// Steps:
//  1. coerce the strings "true" and "false" to booleans;
//  2. resolve each key against the registry without an element and collect the
//     auxiliary keys of the active strategies;
//  3. collapse label/value suffix pairs, then drop empty values and collected keys.
func Normalize(rec *scenario.Record, reg *strategy.Registry, opts Options) (*Result, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: no record", scenario.ErrMalformed)
	}

	// 1. Coerce
	fields := rec.Fields()
	ctx := make(strategy.Data, len(fields))
	for i, f := range fields {
		v, err := coerce(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: field '%s': %v", scenario.ErrMalformed, f.Key, err)
		}
		fields[i].Value = v
		ctx[f.Key] = v
	}

	// 2. Ignored keys
	ignored := make(map[string]bool)
	if reg != nil {
		for _, f := range fields {
			if s := reg.Resolve(f.Key, nil, ctx); s != nil {
				for _, k := range s.IgnoredKeys(f.Key) {
					ignored[k] = true
				}
			}
		}
	}

	// 3. Collapse and drop
	// An empty label supersedes nothing: the value keys still carry the answer.
	labelled := make(map[string]bool)
	for _, f := range fields {
		if base, ok := trimAny(f.Key, opts.LabelSuffixes); ok && !isEmpty(f.Value) {
			labelled[base] = true
		}
	}

	res := &Result{Context: ctx}
	emitted := make(map[string]int)
	for _, f := range fields {
		key := f.Key
		reason := DropReason("")

		if base, ok := trimAny(key, opts.LabelSuffixes); ok {
			key = base
		} else if base, ok := trimAny(key, opts.ValueSuffixes); ok && labelled[base] {
			reason = DropSuperseded
		} else if labelled[key] {
			reason = DropSuperseded
		}

		switch {
		case reason != "":
		case isEmpty(f.Value):
			reason = DropEmpty
		case ignored[f.Key] || ignored[key]:
			reason = DropIgnored
		}
		if reason != "" {
			res.Dropped = append(res.Dropped, Drop{Key: f.Key, Reason: reason})
			continue
		}

		if i, dup := emitted[key]; dup {
			res.Fields[i].Value = f.Value
			continue
		}
		emitted[key] = len(res.Fields)
		res.Fields = append(res.Fields, scenario.Field{Key: key, Value: f.Value})
	}
	return res, nil
}

// coerce turns string booleans into booleans and rejects non-primitive values.
func coerce(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool:
		return t, nil
	case string:
		switch t {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return t, nil
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return t, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a primitive", v)
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func trimAny(key string, suffixes []string) (string, bool) {
	for _, s := range suffixes {
		if s != "" && len(key) > len(s) && strings.HasSuffix(key, s) {
			return strings.TrimSuffix(key, s), true
		}
	}
	return "", false
}
