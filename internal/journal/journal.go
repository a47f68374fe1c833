// Package journal persists update runs and their per-record outcomes to
// Postgres so a run can be audited after the fact.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/patronupdate/internal/pipeline"
)

// ErrNoRun is returned when outcomes are recorded before StartRun.
var ErrNoRun = errors.New("journal: no run started")

const schema = `
CREATE TABLE IF NOT EXISTS patron_update_runs (
	id                  UUID PRIMARY KEY,
	csv_path            TEXT NOT NULL,
	commit_writes       BOOLEAN NOT NULL,
	delay_ms            BIGINT NOT NULL,
	host                TEXT,
	version             TEXT,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ,
	records_seen        INTEGER,
	records_missing_key INTEGER,
	updates_attempted   INTEGER,
	updates_succeeded   INTEGER,
	updates_failed      INTEGER,
	cancelled           BOOLEAN,
	source_error        TEXT
);

CREATE TABLE IF NOT EXISTS patron_update_outcomes (
	run_id      UUID NOT NULL REFERENCES patron_update_runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	csv_line    INTEGER,
	barcode     TEXT,
	state       TEXT NOT NULL,
	reason      TEXT,
	fields      JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS patron_update_outcomes_barcode_idx
	ON patron_update_outcomes (barcode);
`

// Journal writes to Postgres. One Journal tracks one run at a time.
type Journal struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	runID  pgtype.UUID
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID     string
	CSVPath   string
	Commit    bool
	Delay     time.Duration
	Host      string
	Version   string
	StartedAt time.Time
}

// RunRecord is a stored run.
type RunRecord struct {
	RunID      string
	CSVPath    string
	Commit     bool
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    pipeline.Summary
}

// Open connects to url and makes sure the schema exists.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse journal database url: %w", err)
	}
	// Writes are strictly sequential.
	poolConfig.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (j *Journal) Close() {
	j.pool.Close()
}

// StartRun inserts the run row. Later outcomes attach to it.
func (j *Journal) StartRun(ctx context.Context, info RunInfo) error {
	id, err := uuid.Parse(info.RunID)
	if err != nil {
		return fmt.Errorf("journal: run id %q: %w", info.RunID, err)
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	_, err = j.pool.Exec(ctx, `
		INSERT INTO patron_update_runs (id, csv_path, commit_writes, delay_ms, host, version, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pgtype.UUID{Bytes: id, Valid: true},
		info.CSVPath,
		info.Commit,
		info.Delay.Milliseconds(),
		toPgText(info.Host),
		toPgText(info.Version),
		info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}

	j.runID = pgtype.UUID{Bytes: id, Valid: true}
	j.logger.Debug("journal run started", "run_id", info.RunID)
	return nil
}

// RecordOutcome implements pipeline.Recorder.
func (j *Journal) RecordOutcome(ctx context.Context, o pipeline.Outcome) error {
	if !j.runID.Valid {
		return ErrNoRun
	}

	var fields []byte
	if len(o.Fields) > 0 {
		var err error
		fields, err = json.Marshal(o.Fields)
		if err != nil {
			return fmt.Errorf("journal: encode fields: %w", err)
		}
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO patron_update_outcomes (run_id, seq, csv_line, barcode, state, reason, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.runID,
		o.Seq,
		toPgInt4(o.Line),
		toPgText(o.Barcode),
		string(o.State),
		toPgText(o.Reason),
		fields,
	)
	if err != nil {
		return fmt.Errorf("journal: insert outcome %d: %w", o.Seq, err)
	}
	return nil
}

// FinishRun stores the final counters. It runs on a fresh context when ctx
// is already cancelled so an interrupted run is still closed out.
func (j *Journal) FinishRun(ctx context.Context, s pipeline.Summary) error {
	if !j.runID.Valid {
		return ErrNoRun
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	var sourceErr pgtype.Text
	if s.SourceErr != nil {
		sourceErr = toPgText(s.SourceErr.Error())
	}

	_, err := j.pool.Exec(ctx, `
		UPDATE patron_update_runs SET
			finished_at = $2,
			records_seen = $3,
			records_missing_key = $4,
			updates_attempted = $5,
			updates_succeeded = $6,
			updates_failed = $7,
			cancelled = $8,
			source_error = $9
		WHERE id = $1`,
		j.runID,
		time.Now(),
		s.RecordsSeen,
		s.RecordsMissingKey,
		s.UpdatesAttempted,
		s.UpdatesSucceeded,
		s.UpdatesFailed,
		s.Cancelled,
		sourceErr,
	)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.pool.Query(ctx, `
		SELECT id, csv_path, commit_writes, started_at, finished_at,
		       COALESCE(records_seen, 0), COALESCE(records_missing_key, 0),
		       COALESCE(updates_attempted, 0), COALESCE(updates_succeeded, 0),
		       COALESCE(updates_failed, 0), COALESCE(cancelled, false), source_error
		FROM patron_update_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			id        pgtype.UUID
			finished  pgtype.Timestamptz
			sourceErr pgtype.Text
			r         RunRecord
		)
		if err := rows.Scan(&id, &r.CSVPath, &r.Commit, &r.StartedAt, &finished,
			&r.Summary.RecordsSeen, &r.Summary.RecordsMissingKey,
			&r.Summary.UpdatesAttempted, &r.Summary.UpdatesSucceeded,
			&r.Summary.UpdatesFailed, &r.Summary.Cancelled, &sourceErr); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.RunID = uuidToString(id)
		r.Summary.RunID = r.RunID
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
			r.Summary.Elapsed = t.Sub(r.StartedAt)
		}
		if sourceErr.Valid {
			r.Summary.SourceErr = errors.New(sourceErr.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outcomes returns the outcomes stored for runID in record order.
func (j *Journal) Outcomes(ctx context.Context, runID string) ([]pipeline.Outcome, error) {
	id := toPgUUID(runID)
	if !id.Valid {
		return nil, fmt.Errorf("journal: run id %q is not a uuid", runID)
	}

	rows, err := j.pool.Query(ctx, `
		SELECT seq, csv_line, barcode, state, reason, fields
		FROM patron_update_outcomes
		WHERE run_id = $1
		ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("journal: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Outcome
	for rows.Next() {
		var (
			o       pipeline.Outcome
			line    pgtype.Int4
			barcode pgtype.Text
			state   string
			reason  pgtype.Text
			fields  []byte
		)
		if err := rows.Scan(&o.Seq, &line, &barcode, &state, &reason, &fields); err != nil {
			return nil, fmt.Errorf("journal: scan outcome: %w", err)
		}
		o.Line = int(line.Int32)
		o.Barcode = barcode.String
		o.State = pipeline.State(state)
		o.Reason = reason.String
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &o.Fields); err != nil {
				return nil, fmt.Errorf("journal: decode fields of outcome %d: %w", o.Seq, err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgInt4(i int) pgtype.Int4 {
	if i == 0 {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

func toPgUUID(s string) pgtype.UUID {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func uuidToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
