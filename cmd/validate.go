// -- cmd/validate.go --
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/fill/normalize"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.json>",
		Short: "Check a scenario record and print the fill instructions it yields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) runValidate(out io.Writer, path string) error {
	rec, err := scenario.Load(path, scenarioOptions(a.cfg))
	if err != nil {
		return err
	}
	reg, err := buildRegistry(a.cfg.Engine(), a.logger)
	if err != nil {
		return err
	}
	res, err := normalize.Normalize(rec, reg, engineOptions(a.cfg).Normalize)
	if err != nil {
		return err
	}

	if rec.Code != "" {
		fmt.Fprintf(out, "Procedure: %s\n", rec.Code)
	}
	fmt.Fprintf(out, "%d field(s) to fill, %d dropped.\n\n", len(res.Fields), len(res.Dropped))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tSTRATEGY")
	for _, f := range res.Fields {
		name := "(resolved on page)"
		if s := reg.Resolve(f.Key, nil, res.Context); s != nil {
			name = s.Name()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Key, cast.ToString(f.Value), name)
	}
	if len(res.Dropped) > 0 {
		fmt.Fprintln(w, "\nDROPPED\tREASON\t")
		for _, d := range res.Dropped {
			fmt.Fprintf(w, "%s\t%s\t\n", d.Key, d.Reason)
		}
	}
	return w.Flush()
}
