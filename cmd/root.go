// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// app carries what the subcommands share once the root command has initialized.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Interface
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree. Each call gets its own viper instance so
// flags and config never leak between invocations.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "formpilot",
		Short:         "formpilot fills web procedure forms from scenario records.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			if err := a.initializeConfig(cmd); err != nil {
				return err
			}
			applySwitches(cmd, a.cfg)
			observability.InitializeLogger(a.cfg.Logger())
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				if err := observability.SetLevel(lvl); err != nil {
					return err
				}
			}
			a.logger = observability.GetLogger()
			a.logger.Debug("Starting formpilot.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "formpilot version %s\n" .Version}}`)

	rootCmd.AddCommand(
		newFillCmd(a),
		newSnapshotCmd(a),
		newValidateCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with the signal-aware ctx.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Interrupted.")
			return err
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment, binds the command's flags and
// produces the validated configuration.
func (a *app) initializeConfig(cmd *cobra.Command) error {
	config.SetDefaults(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || a.cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	if bind, ok := cmd.Annotations[annotationBindings]; ok && bind != "" {
		if err := bindFlags(a.v, cmd, bind); err != nil {
			return err
		}
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
