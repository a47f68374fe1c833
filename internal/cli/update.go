package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/patronupdate/internal/config"
	"github.com/JonMunkholm/patronupdate/internal/journal"
	"github.com/JonMunkholm/patronupdate/internal/logging"
	"github.com/JonMunkholm/patronupdate/internal/papi"
	"github.com/JonMunkholm/patronupdate/internal/patron"
	"github.com/JonMunkholm/patronupdate/internal/pipeline"
	"github.com/JonMunkholm/patronupdate/internal/report"
)

// UpdateOptions holds flags for an update run.
type UpdateOptions struct {
	*RootOptions
	CSVPath    string
	Commit     bool
	DelayMS    int
	ReportPath string
}

func addUpdateFlags(cmd *cobra.Command, opts *UpdateOptions) {
	cmd.Flags().StringVarP(&opts.CSVPath, "csv", "c", "", "CSV file of patron records (required)")
	cmd.Flags().BoolVarP(&opts.Commit, "go", "g", false, "write changes; without it the run is a dry run")
	cmd.Flags().IntVarP(&opts.DelayMS, "delay", "d", 0, "milliseconds to wait between updates (default RUN_DELAY)")
	cmd.Flags().StringVar(&opts.ReportPath, "report", "", "write an HTML report of the run to this path")
	_ = cmd.MarkFlagRequired("csv")
}

// setup loads configuration and configures logging for any command.
func setup(opts *RootOptions, cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.Setup(level, cfg.Logging.Format, cmd.ErrOrStderr())
	logger.Debug("configuration loaded", "config", cfg.String())
	return cfg, logger, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, stopping after the current record", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func runUpdate(opts *UpdateOptions, cmd *cobra.Command) error {
	cfg, logger, err := setup(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	delay := cfg.Run.Delay
	if cmd.Flags().Changed("delay") {
		if opts.DelayMS < 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --delay %d: must be zero or more milliseconds", opts.DelayMS))
		}
		delay = time.Duration(opts.DelayMS) * time.Millisecond
	}

	runID := uuid.NewString()
	ctx, cancel := signalContext(cmd, logger)
	defer cancel()
	ctx = logging.WithRun(ctx, runID)
	log := logging.Enrich(ctx, logger)

	log.Info("opening csv file", "path", opts.CSVPath)
	src, err := patron.OpenCSV(opts.CSVPath, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open csv", err)
	}
	defer src.Close()

	commit := opts.Commit
	var updater pipeline.Updater
	if commit {
		client, err := papi.New(cfg.PAPI, nil, log)
		switch {
		case errors.Is(err, papi.ErrNotConfigured):
			log.Warn("PAPI settings incomplete, running as dry run", "missing", cfg.PAPI.Missing())
			commit = false
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to create PAPI client", err)
		default:
			updater = client
		}
	}

	pipeOpts := []pipeline.Option{pipeline.WithErrorDescriber(papi.Describe)}

	var collector *report.Collector
	if opts.ReportPath != "" {
		collector = report.NewCollector()
		pipeOpts = append(pipeOpts, pipeline.WithRecorder(collector))
	}

	var jrnl *journal.Journal
	if cfg.Journal.DatabaseURL != "" {
		jrnl = openJournal(ctx, cfg.Journal.DatabaseURL, journal.RunInfo{
			RunID:   runID,
			CSVPath: opts.CSVPath,
			Commit:  commit,
			Delay:   delay,
			Host:    hostname(),
			Version: logging.Version(),
		}, log)
		if jrnl != nil {
			defer jrnl.Close()
			pipeOpts = append(pipeOpts, pipeline.WithRecorder(jrnl))
		}
	}

	p := pipeline.New(updater, logger, pipeOpts...)
	summary := p.Run(ctx, src, pipeline.RunConfig{
		CSVPath: opts.CSVPath,
		Commit:  commit,
		Delay:   delay,
	})

	log.Info(fmt.Sprintf("run complete, %d records resulted in %d updates in %d ms",
		summary.RecordsSeen, summary.UpdatesSucceeded, summary.Elapsed.Milliseconds()),
		"summary", summary)

	if jrnl != nil {
		if err := jrnl.FinishRun(ctx, summary); err != nil {
			log.Warn("journal not updated", "error", err)
		}
	}

	printSummary(cmd.OutOrStdout(), summary, commit)

	if collector != nil {
		info := report.Info{
			CSVPath:     opts.CSVPath,
			Commit:      commit,
			Host:        hostname(),
			Version:     logging.Version(),
			GeneratedAt: time.Now(),
		}
		// The run context may be cancelled; the report is still wanted.
		if err := collector.WriteFile(context.WithoutCancel(ctx), opts.ReportPath, info, summary); err != nil {
			return WrapExitError(ExitFailure, "failed to write report", err)
		}
		log.Info("report written", "path", opts.ReportPath)
	}

	if summary.SourceErr != nil {
		return WrapExitError(ExitFailure, "run stopped early", summary.SourceErr)
	}
	return nil
}

// openJournal connects and starts the run. Failures are logged and yield nil:
// the journal is never a reason to stop a run.
func openJournal(ctx context.Context, url string, info journal.RunInfo, log *slog.Logger) *journal.Journal {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	j, err := journal.Open(openCtx, url, log)
	if err != nil {
		log.Warn("journal unavailable, continuing without it", "error", err)
		return nil
	}
	if err := j.StartRun(openCtx, info); err != nil {
		log.Warn("journal unavailable, continuing without it", "error", err)
		j.Close()
		return nil
	}
	return j
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
