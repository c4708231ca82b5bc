// -- cmd/snapshot.go --
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSnapshotCmd(a *app) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save the rendered HTML of a page for offline dry runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			output, _ := cmd.Flags().GetString("output")
			return a.runSnapshot(cmd.Context(), cmd.OutOrStdout(), url, output)
		},
	}
	snapshotCmd.Flags().String("url", "", "page to capture")
	snapshotCmd.Flags().StringP("output", "o", "", "file to write (default: stdout)")
	snapshotCmd.Flags().Bool("headless", false, "run Chrome without a window")
	_ = snapshotCmd.MarkFlagRequired("url")
	return snapshotCmd
}

func (a *app) runSnapshot(ctx context.Context, out io.Writer, url, output string) error {
	b, err := launchBrowser(ctx, a.cfg.Browser(), a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.logger.Warn("Failed to close browser.", zap.Error(err))
		}
	}()

	if err := b.Navigate(ctx, url); err != nil {
		return err
	}
	html, err := b.HTML(ctx)
	if err != nil {
		return err
	}

	if output == "" {
		_, err := io.WriteString(out, html)
		return err
	}
	path, err := homedir.Expand(output)
	if err != nil {
		return fmt.Errorf("could not resolve output path '%s': %w", output, err)
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	a.logger.Info("Snapshot saved.", zap.String("url", url), zap.String("path", path), zap.Int("bytes", len(html)))
	return nil
}
