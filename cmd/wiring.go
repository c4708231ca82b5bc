// -- cmd/wiring.go --
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/cdp"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/fill/engine"
	"github.com/xkilldash9x/formpilot/internal/fill/normalize"
	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

// browserSession is the slice of a Chrome instance the commands drive.
type browserSession interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Tree() dom.Tree
	Close() error
}

type chromeSession struct {
	*cdp.Browser
}

func (s chromeSession) Tree() dom.Tree { return s.Browser.Tree() }

// launchBrowser starts Chrome. Tests replace it to stay browser-free.
var launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browserSession, error) {
	b, err := cdp.Launch(ctx, browserConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	return chromeSession{b}, nil
}

func browserConfig(b config.BrowserConfig) cdp.Config {
	return cdp.Config{
		Headless:          b.Headless,
		DisableGPU:        b.DisableGPU,
		ExecPath:          b.ExecPath,
		Args:              b.Args,
		NavigationTimeout: b.NavigationTimeout,
		PostLoadWait:      b.PostLoadWait,
	}
}

func scenarioOptions(cfg config.Interface) scenario.Options {
	return scenario.Options{DataKey: cfg.Engine().DataKey, CodeKey: cfg.Engine().CodeKey}
}

// engineOptions maps the engine and report sections onto the run options.
func engineOptions(cfg config.Interface) engine.Options {
	e := cfg.Engine()
	opts := engine.DefaultOptions()
	opts.QuiescenceTimeout = e.QuiescenceTimeout
	opts.ActionDelay = e.ActionDelay
	opts.Verbose = e.Verbose
	opts.RerunYield = e.RerunYield
	opts.KeyAttribute = e.KeyAttribute
	opts.MaxFailures = e.MaxFailures
	opts.Retry = engine.RetryOptions{
		InitialInterval: e.Retry.InitialInterval,
		MaxInterval:     e.Retry.MaxInterval,
		Multiplier:      e.Retry.Multiplier,
	}
	opts.Normalize = normalize.Options{LabelSuffixes: e.LabelSuffixes, ValueSuffixes: e.ValueSuffixes}
	opts.OrphanPrefixMatch = cfg.Report().OrphanPrefixMatch
	return opts
}

// buildRegistry assembles the builtin and configured composites ahead of the generic strategies.
func buildRegistry(e config.EngineConfig, logger *zap.Logger) (*strategy.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	specs, err := strategy.LoadComposites(e.CompositesFile)
	if err != nil {
		return nil, err
	}
	reg, err := strategy.DefaultRegistry(specs, strategy.CompositeOptions{
		Stabilize: e.Composite.Stabilize,
		Settle:    e.Composite.Settle,
		MaxNudges: e.Composite.MaxNudges,
		Logger:    logger.Named("strategy"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy registry: %w", err)
	}
	return reg, nil
}

// resolveURL prefers an explicit URL and falls back to the procedure page of the record.
func resolveURL(explicit string, rec *scenario.Record, baseURL string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("no target: pass --url or set browser.base_url")
	}
	return rec.TargetURL(baseURL)
}
