// internal/scenario/validate.go
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache holds one compiled schema per wrapper layout.
var schemaCache sync.Map

// recordSchema describes a well-formed record. Field values must be primitives: an unset
// field is null or "", booleans may also arrive as the strings "true" and "false".
func recordSchema(opts Options) map[string]any {
	primitive := map[string]any{"type": []any{"string", "boolean", "number", "null"}}
	fieldMap := map[string]any{
		"type":                 "object",
		"additionalProperties": map[string]any{"$ref": "#/$defs/value"},
	}

	schema := map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$defs":   map[string]any{"value": primitive},
		"type":    "object",
		"if":      map[string]any{"required": []any{opts.DataKey}},
		"then": map[string]any{
			"properties": map[string]any{opts.DataKey: fieldMap},
		},
		"else": map[string]any{
			"additionalProperties": map[string]any{"$ref": "#/$defs/value"},
		},
	}
	if opts.CodeKey != "" {
		schema["properties"] = map[string]any{
			opts.CodeKey: map[string]any{"type": []any{"string", "null"}},
		}
	}
	return schema
}

func compiledSchema(opts Options) (*jsonschema.Schema, error) {
	cacheKey := opts.DataKey + "\x00" + opts.CodeKey
	if cached, ok := schemaCache.Load(cacheKey); ok {
		return cached.(*jsonschema.Schema), nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("scenario.json", recordSchema(opts)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("scenario.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(cacheKey, sch)
	return sch, nil
}

// validate rejects anything that is not a well-formed record.
func validate(data []byte, opts Options) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty document", ErrMalformed)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sch, err := compiledSchema(opts)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", ErrMalformed, ve.Error())
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
