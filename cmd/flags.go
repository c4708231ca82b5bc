// -- cmd/flags.go --
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// annotationBindings lists "flag=config.key" pairs a command binds into viper, so flags
// override the config file and environment with the right precedence.
const annotationBindings = "formpilot/bindings"

func bindings(pairs ...string) map[string]string {
	return map[string]string{annotationBindings: strings.Join(pairs, ",")}
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, spec string) error {
	for _, pair := range strings.Split(spec, ",") {
		flagName, key, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed flag binding %q", pair)
		}
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			return fmt.Errorf("flag binding references unknown flag --%s", flagName)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s to %s: %w", flagName, key, err)
		}
	}
	return nil
}

// applySwitches applies the boolean switches a command declares on top of the loaded
// configuration. Only switches given on the command line override it.
func applySwitches(cmd *cobra.Command, cfg config.Interface) {
	flags := cmd.Flags()
	if f := flags.Lookup("headless"); f != nil && f.Changed {
		v, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(v)
	}
	if f := flags.Lookup("verbose"); f != nil && f.Changed {
		v, _ := flags.GetBool("verbose")
		cfg.SetEngineVerbose(v)
	}
}
