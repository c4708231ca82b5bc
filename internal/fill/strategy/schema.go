// internal/fill/strategy/schema.go
package strategy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

//go:embed composites.yaml
var builtinComposites []byte

// CompositeSpec declares one composite widget kind by its key-suffix conventions.
type CompositeSpec struct {
	Kind string `yaml:"kind"`
	// PivotSuffix identifies the key that drives the whole widget.
	PivotSuffix string `yaml:"pivot_suffix"`
	// GateSuffix names the companion checkbox that reveals the widget. Optional.
	GateSuffix string `yaml:"gate_suffix"`
	// InputSuffix names the text input that feeds the suggestion list.
	InputSuffix string `yaml:"input_suffix"`
	// IgnoredSuffixes are appended to the pivot base to form the subsumed keys.
	IgnoredSuffixes []string `yaml:"ignored_suffixes"`
	// TargetSuffixes name the sibling fields joined to form the typed text.
	TargetSuffixes []string `yaml:"target_suffixes"`
	// ActiveWhen is a boolean expression over {gate, prefix, key, data}. Empty means always.
	ActiveWhen string `yaml:"active_when"`
	// SuggestionXPath selects the candidate options of the suggestion list.
	SuggestionXPath string `yaml:"suggestion_xpath"`
}

// Validate checks the fields every composite needs.
func (s CompositeSpec) Validate() error {
	switch {
	case s.Kind == "":
		return errors.New("kind is required")
	case s.PivotSuffix == "":
		return errors.New("pivot_suffix is required")
	case s.InputSuffix == "":
		return errors.New("input_suffix is required")
	case s.SuggestionXPath == "":
		return errors.New("suggestion_xpath is required")
	}
	return nil
}

// ParseComposites decodes a YAML list of composite specs. Unknown fields are rejected.
func ParseComposites(data []byte) ([]CompositeSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var specs []CompositeSpec
	if err := dec.Decode(&specs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode composite table: %w", err)
	}
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("composite #%d: %w", i, err)
		}
		if seen[s.Kind] {
			return nil, fmt.Errorf("composite kind %q declared twice", s.Kind)
		}
		seen[s.Kind] = true
	}
	return specs, nil
}

// BuiltinComposites returns the composite table shipped with the binary.
func BuiltinComposites() []CompositeSpec {
	specs, err := ParseComposites(builtinComposites)
	if err != nil {
		panic(fmt.Sprintf("embedded composite table is invalid: %v", err))
	}
	return specs
}

// LoadComposites returns the builtin table followed by the specs of an optional extra file.
func LoadComposites(path string) ([]CompositeSpec, error) {
	specs := BuiltinComposites()
	if path == "" {
		return specs, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve composites path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("could not read composites file: %w", err)
	}
	extra, err := ParseComposites(data)
	if err != nil {
		return nil, err
	}
	return append(specs, extra...), nil
}
