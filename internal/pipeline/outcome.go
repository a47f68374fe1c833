package pipeline

import "log/slog"

// State is where a record ended up.
type State string

const (
	StateSkippedNoKey    State = "Skipped-NoKey"
	StateSkippedNoChange State = "Skipped-NoChange"
	StateSkippedDryRun   State = "Skipped-DryRun"
	StateSucceeded       State = "Succeeded"
	StateFailed          State = "Failed"
)

// Attempted reports whether the state is only reachable through a remote write.
func (s State) Attempted() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the terminal classification of one record.
type Outcome struct {
	Seq     int    // 1-based position in the source
	Line    int    // CSV line, 0 if unknown
	Barcode string // trimmed key, empty for Skipped-NoKey
	State   State
	Reason  string         // failure reason, Failed only
	Fields  map[string]any // intent fields, nil when never evaluated
}

func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("csv_record", o.Seq),
		slog.String("barcode", o.Barcode),
		slog.String("state", string(o.State)),
	}
	if len(o.Fields) > 0 {
		attrs = append(attrs, slog.Int("fields", len(o.Fields)))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", o.Reason))
	}
	return slog.GroupValue(attrs...)
}
