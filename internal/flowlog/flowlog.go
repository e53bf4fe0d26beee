// Package flowlog records each stage of the license-acquisition flow in a
// local SQLite database and summarizes stage timings across runs.
package flowlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dashprobe/internal/media"
)

// Stage names one step of the flow.
type Stage string

const (
	AuthToken     Stage = "auth_token"
	ManifestFetch Stage = "manifest_fetch"
	ManifestParse Stage = "manifest_parse"
	LicenseToken  Stage = "license_token"
	Download      Stage = "download"
	Decrypt       Stage = "decrypt"
)

// Stages lists every stage in flow order.
var Stages = []Stage{AuthToken, ManifestFetch, ManifestParse, LicenseToken, Download, Decrypt}

const schema = `
CREATE TABLE IF NOT EXISTS flow_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	stage       TEXT    NOT NULL,
	content_id  TEXT    NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	duration_ms REAL    NOT NULL,
	ok          INTEGER NOT NULL,
	detail      TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS flow_events_stage ON flow_events (stage, started_at);
CREATE INDEX IF NOT EXISTS flow_events_run ON flow_events (run_id);

CREATE TABLE IF NOT EXISTS protection_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	content_id  TEXT    NOT NULL DEFAULT '',
	system      TEXT    NOT NULL,
	scheme_uri  TEXT    NOT NULL,
	key_id      TEXT    NOT NULL DEFAULT '',
	pssh        TEXT    NOT NULL DEFAULT '',
	license_url TEXT    NOT NULL DEFAULT '',
	seen_at     INTEGER NOT NULL
);
`

// Event is one recorded stage execution.
type Event struct {
	RunID     string        `json:"run_id"`
	Stage     Stage         `json:"stage"`
	ContentID string        `json:"content_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	OK        bool          `json:"ok"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Store is an open flow log database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating flow log directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening flow log: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring flow log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating flow log: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run groups the events of one CLI invocation. A nil *Run records nothing,
// so callers can run the same code with logging disabled.
type Run struct {
	ID        string
	ContentID string
	store     *Store
	now       func() time.Time
}

// NewRun starts a run with a fresh ID.
func (s *Store) NewRun(contentID string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		ContentID: contentID,
		store:     s,
		now:       time.Now,
	}
}

// SetContent sets the content ID attached to events recorded from now on.
func (r *Run) SetContent(contentID string) {
	if r != nil {
		r.ContentID = contentID
	}
}

// Stage runs fn, records its timing and outcome, and returns fn's error.
// Failing to record is logged, never returned.
func (r *Run) Stage(ctx context.Context, stage Stage, detail string, fn func() error) error {
	if r == nil {
		return fn()
	}

	start := r.now()
	err := fn()
	ev := Event{
		RunID:     r.ID,
		Stage:     stage,
		ContentID: r.ContentID,
		StartedAt: start,
		Duration:  r.now().Sub(start),
		OK:        err == nil,
		Detail:    detail,
	}
	if err != nil {
		ev.Error = err.Error()
	}

	if recErr := r.store.Record(ctx, ev); recErr != nil {
		zap.S().Warnf("flow log: %v", recErr)
	}
	return err
}

// Protections stores the protection records seen during the run.
func (r *Run) Protections(ctx context.Context, records []media.ProtectionRecord) {
	if r == nil || len(records) == 0 {
		return
	}
	if err := r.store.RecordProtections(ctx, r.ID, r.ContentID, r.now(), records); err != nil {
		zap.S().Warnf("flow log: %v", err)
	}
}

// Record inserts a single event.
func (s *Store) Record(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_events (run_id, stage, content_id, started_at, duration_ms, ok, detail, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, string(ev.Stage), ev.ContentID, ev.StartedAt.UnixMilli(),
		float64(ev.Duration)/float64(time.Millisecond), okFlag(ev.OK), ev.Detail, ev.Error,
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", ev.Stage, err)
	}
	return nil
}

func okFlag(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

// RecordProtections inserts the protection records of a run in one transaction.
func (s *Store) RecordProtections(ctx context.Context, runID, contentID string, at time.Time, records []media.ProtectionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO protection_records (run_id, content_id, system, scheme_uri, key_id, pssh, license_url, seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, runID, contentID, string(rec.System), rec.SchemeURI,
			rec.KeyID, rec.PSSH, rec.LicenseURL, at.UnixMilli()); err != nil {
			return fmt.Errorf("recording %s protection: %w", rec.System, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing protections: %w", err)
	}
	return nil
}

// Events returns the events of a run in the order they happened.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, content_id, started_at, duration_ms, ok, detail, error
		 FROM flow_events WHERE run_id = ? ORDER BY started_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			stage   string
			started int64
			ms      float64
		)
		if err := rows.Scan(&ev.RunID, &stage, &ev.ContentID, &started, &ms, &ev.OK, &ev.Detail, &ev.Error); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Stage = Stage(stage)
		ev.StartedAt = time.UnixMilli(started)
		ev.Duration = time.Duration(ms * float64(time.Millisecond))
		events = append(events, ev)
	}
	return events, rows.Err()
}

// KeyIDs returns the distinct key IDs recorded for a content ID, newest first.
func (s *Store) KeyIDs(ctx context.Context, contentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_id FROM protection_records
		 WHERE content_id = ? AND key_id != ''
		 GROUP BY key_id ORDER BY MAX(seen_at) DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("querying key ids: %w", err)
	}
	defer rows.Close()

	var kids []string
	for rows.Next() {
		var kid string
		if err := rows.Scan(&kid); err != nil {
			return nil, fmt.Errorf("scanning key id: %w", err)
		}
		kids = append(kids, kid)
	}
	return kids, rows.Err()
}
