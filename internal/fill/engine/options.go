// internal/fill/engine/options.go
package engine

import (
	"errors"
	"time"

	"github.com/xkilldash9x/formpilot/internal/fill/locator"
	"github.com/xkilldash9x/formpilot/internal/fill/normalize"
)

// RetryOptions space the re-attempts of a key that failed.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Options is the immutable configuration of an Engine. UpdateOptions swaps the whole value;
// a running loop picks the new value up at its next checkpoint.
type Options struct {
	// QuiescenceTimeout ends a run once neither the tree nor the engine showed activity for that long.
	QuiescenceTimeout time.Duration
	// ActionDelay is the minimum spacing between two strategy executions.
	ActionDelay time.Duration
	// Verbose raises per-key diagnostics from debug to info.
	Verbose bool
	// RerunYield is the pause before a follow-up scan, leaving the page time to render.
	RerunYield time.Duration
	// KeyAttribute tags the container of a field key.
	KeyAttribute string
	// MaxFailures abandons a key after that many failures. Zero retries forever.
	MaxFailures int
	Retry       RetryOptions
	Normalize   normalize.Options
	// OrphanPrefixMatch suppresses orphans extending a touched key across a "_" boundary.
	OrphanPrefixMatch bool
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		QuiescenceTimeout: 5 * time.Second,
		ActionDelay:       0,
		RerunYield:        10 * time.Millisecond,
		KeyAttribute:      locator.DefaultKeyAttribute,
		Retry: RetryOptions{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
		},
		Normalize:         normalize.DefaultOptions(),
		OrphanPrefixMatch: true,
	}
}

// Validate checks the options a run cannot work without.
func (o Options) Validate() error {
	switch {
	case o.QuiescenceTimeout <= 0:
		return errors.New("quiescence timeout must be positive")
	case o.ActionDelay < 0:
		return errors.New("action delay must not be negative")
	case o.RerunYield < 0:
		return errors.New("rerun yield must not be negative")
	case o.MaxFailures < 0:
		return errors.New("max failures must not be negative")
	case o.Retry.Multiplier != 0 && o.Retry.Multiplier < 1:
		return errors.New("retry multiplier must be at least 1")
	}
	return nil
}
