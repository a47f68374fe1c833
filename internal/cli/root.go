// Package cli wires configuration, the CSV source, the PAPI client and the
// optional recorders into the patronupdate command.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the patronupdate command. Run without a subcommand
// it performs an update run.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	upd := &UpdateOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "patronupdate",
		Short: "Bulk-update Polaris patron records from a CSV file",
		Long: `Reads a CSV of patron barcodes and field values and sends a PatronUpdate
for every row that changes something. Without --go nothing is written.

Recognised columns: Barcode, AddrCheckDate, AltEmailAddress, EmailAddress,
EnableSMS, ExpirationDate, User1 through User5. Header matching ignores case,
spaces and underscores; other columns are ignored.

Example:
  patronupdate -c patrons.csv
  patronupdate -c patrons.csv --go -d 500 --report run.html`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(upd, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "optional YAML settings file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	addUpdateFlags(cmd, upd)

	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}
