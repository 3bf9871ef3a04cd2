package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/aretw0/silo/internal/metrics"
)

// statusReport is printed by the status command.
type statusReport struct {
	Settings string             `json:"settings"`
	Registry any                `json:"registry,omitempty"`
	Metrics  map[string]float64 `json:"metrics"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the registry state and the silo metrics as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gathered, err := metrics.Gather()
		if err != nil {
			return err
		}

		report := statusReport{Settings: settingsLabel(), Metrics: gathered}
		if reg != nil {
			report.Registry = reg.State()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
