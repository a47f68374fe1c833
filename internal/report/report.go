// Package report renders a self-contained HTML page describing one update
// run: the summary counters and every record's outcome.
package report

//go:generate templ generate

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/patronupdate/internal/patron"
	"github.com/JonMunkholm/patronupdate/internal/pipeline"
)

// Info is the run metadata shown in the page header.
type Info struct {
	CSVPath     string
	Commit      bool
	Host        string
	Version     string
	GeneratedAt time.Time
}

// Collector keeps outcomes in memory for the report. It implements
// pipeline.Recorder.
type Collector struct {
	mu       sync.Mutex
	outcomes []pipeline.Outcome
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordOutcome implements pipeline.Recorder.
func (c *Collector) RecordOutcome(_ context.Context, o pipeline.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
	return nil
}

// Outcomes returns a copy of what has been collected.
func (c *Collector) Outcomes() []pipeline.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.Outcome(nil), c.outcomes...)
}

// WriteHTML renders the report to w.
func (c *Collector) WriteHTML(ctx context.Context, w io.Writer, info Info, s pipeline.Summary) error {
	return Page(info, s, c.Outcomes()).Render(ctx, w)
}

// WriteFile renders the report to path, replacing any existing file.
func (c *Collector) WriteFile(ctx context.Context, path string, info Info, s pipeline.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := c.WriteHTML(ctx, f, info, s); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

type summaryRow struct {
	Label string
	Value string
}

func summaryRows(s pipeline.Summary) []summaryRow {
	rows := []summaryRow{
		{"Records seen", strconv.Itoa(s.RecordsSeen)},
		{"Missing barcode", strconv.Itoa(s.RecordsMissingKey)},
		{"Updates attempted", strconv.Itoa(s.UpdatesAttempted)},
		{"Updates succeeded", strconv.Itoa(s.UpdatesSucceeded)},
		{"Updates failed", strconv.Itoa(s.UpdatesFailed)},
		{"No changes", strconv.Itoa(s.SkippedNoChange)},
		{"Skipped (dry run)", strconv.Itoa(s.SkippedDryRun)},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	if s.Cancelled {
		rows = append(rows, summaryRow{"Cancelled", "yes"})
	}
	if s.SourceErr != nil {
		rows = append(rows, summaryRow{"Stopped by", s.SourceErr.Error()})
	}
	return rows
}

func runMode(commit bool) string {
	if commit {
		return "commit"
	}
	return "dry run"
}

func generatedAt(info Info) string {
	if info.GeneratedAt.IsZero() {
		return ""
	}
	return info.GeneratedAt.Format(time.RFC1123)
}

func lineText(line int) string {
	if line <= 0 {
		return ""
	}
	return strconv.Itoa(line)
}

// outcomeClass buckets a state for row styling.
func outcomeClass(s pipeline.State) string {
	switch s {
	case pipeline.StateSucceeded:
		return "ok"
	case pipeline.StateFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// formatFields lists fields in evaluation order as name=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, name := range patron.FieldNames() {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if t, isTime := v.(time.Time); isTime {
			v = t.Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, v))
	}
	return strings.Join(parts, ", ")
}
