package registry

import (
	"strings"

	"github.com/spf13/cobra"
)

// CLIApplication returns a command line application holding the commands of
// every builder. A non-empty prefix renames commands to "<prefix>:<name>".
func (r *Registry) CLIApplication(prefix string) *cobra.Command {
	app := &cobra.Command{
		Use:           "silo",
		Short:         "Manager builder command line interface",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	r.AddCLICommands(app, prefix)
	return app
}

// AddCLICommands adds the commands of every builder to app, in registration
// order.
func (r *Registry) AddCLICommands(app *cobra.Command, prefix string) {
	prefix = strings.TrimRight(prefix, ":")
	for _, b := range r.Builders() {
		for _, cmd := range b.Commands() {
			if prefix != "" {
				cmd.Use = prefix + ":" + cmd.Use
			}
			app.AddCommand(cmd)
		}
	}
}
