package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestSetupJSONCarriesEnrichment(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("info", "json", &buf)

	ctx := WithRun(context.Background(), "run-123")
	Enrich(ctx, logger).Info("run started", "commit", false)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run started", entry["msg"])
	assert.Equal(t, Application, entry["application"])
	assert.Equal(t, "run-123", entry["run_id"])
	assert.Contains(t, entry, "machine_name")
	assert.Contains(t, entry, "version")
	assert.Equal(t, false, entry["commit"])
}

func TestSetupLevelFilters(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("warn", "text", &buf)
	logger.Info("quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestWithFieldsUsesDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Setup("debug", "text", &buf)

	ctx := WithRun(context.Background(), "abc")
	WithFields(ctx, "csv_record", 4, "barcode", "2100").Debug("record")

	out := buf.String()
	assert.Contains(t, out, "run_id=abc")
	assert.Contains(t, out, "csv_record=4")
	assert.Contains(t, out, "barcode=2100")
}

func TestRunIDMissing(t *testing.T) {
	assert.Equal(t, "", RunID(context.Background()))
}
