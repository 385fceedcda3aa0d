package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the patientchat CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "patientchat",
		Short: "Patient chat backend",
		Long:  "Patient records, per-patient message logs and a realtime chat channel between patients and doctors.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("PATIENTCHAT_CONFIG"),
		"path to config file (json or yaml); env PATIENTCHAT_CONFIG")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
