package pipeline

import (
	"log/slog"
	"time"
)

// Summary is the result of one run. It is a snapshot: Run hands out a copy
// and never touches it again.
type Summary struct {
	RunID string

	RecordsSeen       int
	RecordsMissingKey int
	UpdatesAttempted  int
	UpdatesSucceeded  int
	UpdatesFailed     int
	SkippedNoChange   int
	SkippedDryRun     int

	Cancelled bool
	SourceErr error
	Elapsed   time.Duration
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("records_seen", s.RecordsSeen),
		slog.Int("records_missing_key", s.RecordsMissingKey),
		slog.Int("updates_attempted", s.UpdatesAttempted),
		slog.Int("updates_succeeded", s.UpdatesSucceeded),
		slog.Int("updates_failed", s.UpdatesFailed),
		slog.Int("skipped_no_change", s.SkippedNoChange),
		slog.Int("skipped_dry_run", s.SkippedDryRun),
		slog.Int64("elapsed_ms", s.Elapsed.Milliseconds()),
	}
	if s.Cancelled {
		attrs = append(attrs, slog.Bool("cancelled", true))
	}
	if s.SourceErr != nil {
		attrs = append(attrs, slog.String("source_error", s.SourceErr.Error()))
	}
	return slog.GroupValue(attrs...)
}

// tally is the accumulator behind a Summary. It is owned by a single Run.
type tally struct {
	s     Summary
	start time.Time
}

func newTally(runID string, start time.Time) *tally {
	return &tally{s: Summary{RunID: runID}, start: start}
}

func (t *tally) seen() int {
	t.s.RecordsSeen++
	return t.s.RecordsSeen
}

func (t *tally) count(o Outcome) {
	switch o.State {
	case StateSkippedNoKey:
		t.s.RecordsMissingKey++
	case StateSkippedNoChange:
		t.s.SkippedNoChange++
	case StateSkippedDryRun:
		t.s.SkippedDryRun++
	case StateSucceeded:
		t.s.UpdatesAttempted++
		t.s.UpdatesSucceeded++
	case StateFailed:
		t.s.UpdatesAttempted++
		t.s.UpdatesFailed++
	}
}

func (t *tally) finish(now time.Time) Summary {
	t.s.Elapsed = now.Sub(t.start)
	return t.s
}
