// Package pipeline runs patron records through change detection and throttled
// remote updates, one record at a time in source order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/patronupdate/internal/logging"
	"github.com/JonMunkholm/patronupdate/internal/patron"
)

// Source yields records lazily. Next returns io.EOF once exhausted and ctx's
// error once ctx is done.
type Source interface {
	Next(ctx context.Context) (patron.Record, error)
}

// Updater writes one patron's changed fields to the remote service.
// A nil result with a nil error is a valid, if unhelpful, answer.
type Updater interface {
	UpdatePatron(ctx context.Context, barcode string, fields map[string]any) (*patron.UpdateResult, error)
}

// Recorder receives every outcome as it is decided.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// MultiRecorder fans an outcome out to several recorders. Every recorder is
// called; the errors are joined.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordOutcome(ctx context.Context, o Outcome) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordOutcome(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunConfig is the per-run configuration. Run never modifies it.
type RunConfig struct {
	CSVPath string
	Commit  bool
	Delay   time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder adds a recorder. Recorder errors are logged and never end the
// run.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorders = append(p.recorders, r)
		}
	}
}

// WithErrorDescriber sets how updater errors become outcome reasons.
func WithErrorDescriber(fn func(error) string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.describe = fn
		}
	}
}

// Pipeline holds the collaborators of a run. A Pipeline may be reused for
// several runs, but not concurrently.
type Pipeline struct {
	updater   Updater
	logger    *slog.Logger
	recorders MultiRecorder
	describe  func(error) string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline. updater may be nil, in which case every run is a
// dry run.
func New(updater Updater, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		updater:  updater,
		logger:   logger,
		describe: func(err error) string { return err.Error() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes src to exhaustion or until ctx is done, and returns what
// happened. Per-record failures are counted, never returned. A cancelled run
// yields the partial summary with Cancelled set.
func (p *Pipeline) Run(ctx context.Context, src Source, cfg RunConfig) Summary {
	logger := logging.Enrich(ctx, p.logger)
	t := newTally(logging.RunID(ctx), p.now())
	throttle := Throttle{Delay: cfg.Delay, sleep: p.sleep}

	commit := cfg.Commit
	if commit && p.updater == nil {
		logger.Warn("commit requested without an updater, running as dry run")
		commit = false
	}
	if !commit {
		logger.Warn("dry run, no changes will be written")
	}
	logger.Info("processing records", "csv", cfg.CSVPath, "delay_ms", cfg.Delay.Milliseconds())

	for {
		if ctx.Err() != nil {
			t.s.Cancelled = true
			break
		}

		rec, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				t.s.Cancelled = true
				break
			}
			logger.Error("reading records failed, stopping run", "error", err)
			t.s.SourceErr = err
			break
		}

		seq := t.seen()
		if ctx.Err() != nil {
			t.s.Cancelled = true
			break
		}

		o, err := p.process(ctx, logger, rec, seq, commit, throttle, t.s.UpdatesAttempted)
		if err != nil {
			// Only the throttle fails here, and only when ctx is done.
			t.s.Cancelled = true
			break
		}
		t.count(o)
		p.record(ctx, logger, o)
	}

	s := t.finish(p.now())
	if s.Cancelled {
		logger.Warn("run cancelled, returning partial results", "summary", s)
	}
	return s
}

// process classifies one record. attempts is the number of remote writes
// made so far in the run.
func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, rec patron.Record, seq int, commit bool, throttle Throttle, attempts int) (Outcome, error) {
	o := Outcome{Seq: seq, Line: rec.Line, Barcode: rec.Key()}
	if !rec.HasKey() {
		logger.Warn("record has no barcode, skipping", "csv_record", seq, "csv_line", rec.Line)
		o.State = StateSkippedNoKey
		return o, nil
	}

	recLogger := logger.With("csv_record", seq, "barcode", o.Barcode)

	intent := patron.Evaluate(rec)
	o.Fields = intent.Fields

	switch {
	case !intent.ShouldWrite:
		o.State = StateSkippedNoChange
		recLogger.Info("no changes for record")
		return o, nil
	case !commit:
		o.State = StateSkippedDryRun
		recLogger.Info("would update record", "fields", fieldList(intent.Fields))
		return o, nil
	}

	if err := throttle.Wait(ctx, attempts); err != nil {
		return o, err
	}

	result, err := p.updater.UpdatePatron(ctx, o.Barcode, intent.Fields)
	switch {
	case err != nil:
		o.State, o.Reason = StateFailed, p.describe(err)
	case result == nil:
		o.State, o.Reason = StateFailed, "empty result"
	case !result.Succeeded:
		o.State, o.Reason = StateFailed, failureReason(result)
	default:
		o.State = StateSucceeded
	}

	if o.State == StateFailed {
		recLogger.Error("update failed", "reason", o.Reason)
	} else {
		recLogger.Info("updated record", "fields", fieldList(intent.Fields))
	}
	return o, nil
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, o Outcome) {
	if len(p.recorders) == 0 {
		return
	}
	// Counted outcomes are recorded even once ctx is cancelled.
	if err := p.recorders.RecordOutcome(context.WithoutCancel(ctx), o); err != nil {
		logger.Warn("recording outcome failed", "csv_record", o.Seq, "barcode", o.Barcode, "error", err)
	}
}

func failureReason(r *patron.UpdateResult) string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	if r.ErrorCode != 0 {
		return fmt.Sprintf("HTTP %d (error code %d)", r.StatusCode, r.ErrorCode)
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// fieldList returns the intent's field names in evaluation order.
func fieldList(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for _, name := range patron.FieldNames() {
		if _, ok := fields[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
