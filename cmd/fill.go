// -- cmd/fill.go --
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/browser/htmldom"
	"github.com/xkilldash9x/formpilot/internal/control"
	"github.com/xkilldash9x/formpilot/internal/fill/engine"
	"github.com/xkilldash9x/formpilot/internal/scenario"
	"github.com/xkilldash9x/formpilot/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func newFillCmd(a *app) *cobra.Command {
	fillCmd := &cobra.Command{
		Use:   "fill <scenario.json>",
		Short: "Fill a procedure form from a scenario record",
		Long: `Loads a scenario record, opens the procedure page (or a saved HTML snapshot) and
fills every field it can find. The run ends when all fields are handled, when the page
stops changing for the quiescence timeout, or on interrupt. The run report is printed as
JSON, or written to --output.`,
		Args: cobra.ExactArgs(1),
		Annotations: bindings(
			"base-url=browser.base_url",
			"quiescence-timeout=engine.quiescence_timeout",
			"action-delay=engine.action_delay",
			"max-failures=engine.max_failures",
			"output=report.output",
			"control=control.enabled",
			"control-addr=control.addr",
		),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetURL, _ := cmd.Flags().GetString("url")
			snapshot, _ := cmd.Flags().GetString("snapshot")
			return a.runFill(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], targetURL, snapshot)
		},
	}

	flags := fillCmd.Flags()
	flags.String("url", "", "page to fill (default: derived from the record's procedure code and --base-url)")
	flags.String("snapshot", "", "dry run against a saved HTML snapshot instead of a browser")
	flags.String("base-url", "", "site root the procedure page is derived from")
	flags.Bool("headless", false, "run Chrome without a window")
	flags.Bool("verbose", false, "log per-field diagnostics at info level")
	flags.Duration("quiescence-timeout", 5*time.Second, "stop after the page has been quiet this long")
	flags.Duration("action-delay", 0, "pause between two field actions")
	flags.Int("max-failures", 0, "abandon a field after this many failures (0: never)")
	flags.StringP("output", "o", "", "write the JSON report to this file instead of stdout")
	flags.Bool("control", false, "serve the HTTP control surface during the run")
	flags.String("control-addr", "127.0.0.1:8787", "control surface listen address")
	return fillCmd
}

func (a *app) runFill(ctx context.Context, out, errOut io.Writer, scenarioPath, targetURL, snapshotPath string) error {
	logger := a.logger.Named("fill")
	cfg := a.cfg

	// 1. Scenario
	rec, err := scenario.Load(scenarioPath, scenarioOptions(cfg))
	if err != nil {
		return err
	}
	logger.Info("Scenario loaded.", zap.String("path", scenarioPath), zap.Int("fields", rec.Len()), zap.String("code", rec.Code))

	// 2. Strategies
	reg, err := buildRegistry(cfg.Engine(), logger)
	if err != nil {
		return err
	}

	// 3. Telemetry
	providers, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.Telemetry().Endpoint,
		Insecure: cfg.Telemetry().Insecure,
	}, "formpilot", Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete.", zap.Error(err))
		}
	}()

	// 4. Engine and control surface
	sink := func(engine.Event) {}
	eng, err := engine.New(engineOptions(cfg), reg, a.logger,
		engine.WithTracer(providers.Tracer),
		engine.WithMeter(providers.Meter),
		engine.WithEventSink(func(ev engine.Event) { sink(ev) }),
	)
	if err != nil {
		return err
	}
	var srv *control.Server
	if cfg.Control().Enabled {
		srv = control.NewServer(cfg.Control().Addr, eng, a.logger)
		sink = srv.EventSink()
	}

	// 5. Element tree
	tree, closeTree, err := a.openTree(ctx, rec, targetURL, snapshotPath)
	if err != nil {
		return err
	}
	defer closeTree()

	// 6. Run
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopSrv := context.WithCancel(gctx)
	defer stopSrv()
	if srv != nil {
		g.Go(func() error { return srv.Start(srvCtx) })
	}

	var rep *engine.Report
	g.Go(func() error {
		defer stopSrv()
		run, err := eng.Start(gctx, tree, rec)
		if err != nil {
			return err
		}
		if srv != nil {
			srv.SetRun(run)
		}
		// Cancellation ends the run with a user-abort report, so wait for it regardless.
		rep, err = run.Wait(context.WithoutCancel(gctx))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// 7. Report
	return writeReport(out, errOut, rep, cfg.Report().Output, logger)
}

// openTree returns the element tree of a snapshot file or of a freshly navigated browser.
func (a *app) openTree(ctx context.Context, rec *scenario.Record, targetURL, snapshotPath string) (dom.Tree, func(), error) {
	if snapshotPath != "" {
		doc, err := htmldom.Load(snapshotPath)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("Dry run against snapshot.", zap.String("path", snapshotPath))
		return doc, func() {}, nil
	}

	url, err := resolveURL(targetURL, rec, a.cfg.Browser().BaseURL)
	if err != nil {
		return nil, nil, err
	}
	b, err := launchBrowser(ctx, a.cfg.Browser(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := b.Close(); err != nil {
			a.logger.Warn("Failed to close browser.", zap.Error(err))
		}
	}
	if err := b.Navigate(ctx, url); err != nil {
		closeFn()
		return nil, nil, err
	}
	return b.Tree(), closeFn, nil
}

func writeReport(out, errOut io.Writer, rep *engine.Report, output string, logger *zap.Logger) error {
	data, err := rep.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if output == "" {
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
	} else {
		path, err := homedir.Expand(output)
		if err != nil {
			return fmt.Errorf("could not resolve report path '%s': %w", output, err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written.", zap.String("path", path))
	}

	fmt.Fprintln(errOut, rep.Summary())
	return nil
}
