package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"

	"github.com/aretw0/silo"
	"github.com/aretw0/silo/internal/ui"
)

var managersJSON bool

// managerRow is the subset of a builder state listed by the managers command.
type managerRow struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Classes []string `json:"classes"`
	Built   bool     `json:"built"`
}

var managersCmd = &cobra.Command{
	Use:   "managers",
	Short: "List the configured managers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := managerRows(reg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if managersJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		if len(rows) == 0 {
			ui.Warning(out, "No managers configured (settings: %s)", settingsLabel())
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, ui.Label("NAME")+"\t"+ui.Label("KIND")+"\t"+ui.Label("CLASSES")+"\t"+ui.Label("BUILT"))
		for _, r := range rows {
			classes := strings.Join(r.Classes, ",")
			if classes == "" {
				classes = ui.DimText("-")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Name, r.Kind, classes, r.Built)
		}
		return w.Flush()
	},
}

func managerRows(r *silo.Registry) ([]managerRow, error) {
	rows := []managerRow{}
	if r == nil {
		return rows, nil
	}
	for _, b := range r.Builders() {
		row := managerRow{Name: b.Name(), Kind: b.Kind()}
		if i, ok := b.(introspection.Introspectable); ok {
			data, err := json.Marshal(i.State())
			if err != nil {
				return nil, fmt.Errorf("state of %q: %w", b.Name(), err)
			}
			if err := json.Unmarshal(data, &row); err != nil {
				return nil, fmt.Errorf("state of %q: %w", b.Name(), err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func settingsLabel() string {
	if opts.settingsPath == "" {
		return "none found"
	}
	return opts.settingsPath
}

func init() {
	managersCmd.Flags().BoolVar(&managersJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(managersCmd)
}
