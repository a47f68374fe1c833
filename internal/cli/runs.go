package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/patronupdate/internal/journal"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// NewRunsCommand creates the runs command, which lists journaled runs.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs recorded in the journal",
		Long: `List recent update runs from the Postgres journal, newest first.

Requires JOURNAL_DATABASE_URL (or journal.database_url in the settings file).

Example:
  patronupdate runs --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of runs to show")

	return cmd
}

func listRuns(opts *RunsOptions, cmd *cobra.Command) error {
	cfg, logger, err := setup(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if cfg.Journal.DatabaseURL == "" {
		return NewExitError(ExitCommandError, "no journal configured: set JOURNAL_DATABASE_URL")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	j, err := journal.Open(ctx, cfg.Journal.DatabaseURL, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	runs, err := j.Runs(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list runs", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tSEEN\tATTEMPTED\tSUCCEEDED\tFAILED\tSTATUS\tCSV")
	for _, r := range runs {
		mode := "dry run"
		if r.Commit {
			mode = "commit"
		}
		status := "finished"
		switch {
		case r.FinishedAt == nil:
			status = "incomplete"
		case r.Summary.Cancelled:
			status = "cancelled"
		case r.Summary.SourceErr != nil:
			status = "stopped"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), mode,
			r.Summary.RecordsSeen, r.Summary.UpdatesAttempted,
			r.Summary.UpdatesSucceeded, r.Summary.UpdatesFailed, status, r.CSVPath)
	}
	return tw.Flush()
}
