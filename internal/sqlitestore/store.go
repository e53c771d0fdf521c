// Package sqlitestore persists actor step history in a SQLite database. It
// implements nodestore.Store and nodestore.RunRecorder so a CLI run can be
// inspected after the process exits.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vk/flowgrid/internal/nodestore"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed history store. Uses WAL mode so a reader can
// inspect a database while a run is still writing to it.
type Store struct {
	db *sql.DB
}

var (
	_ nodestore.Store       = (*Store)(nil)
	_ nodestore.RunRecorder = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
// It is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// SetStatus upserts the record of one actor on one step.
func (s *Store) SetStatus(ctx context.Context, key nodestore.Key, kind string, status nodestore.Status, err error) error {
	fires := 0
	if status == nodestore.StatusRunning {
		fires = 1
	}
	var errText sql.NullString
	if err != nil {
		errText = sql.NullString{String: err.Error(), Valid: true}
	}
	_, execErr := s.db.ExecContext(ctx, `
		INSERT INTO actor_steps (run_id, seq, actor, kind, status, fires, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, seq, actor) DO UPDATE SET
			status = excluded.status,
			fires  = actor_steps.fires + excluded.fires,
			error  = COALESCE(excluded.error, actor_steps.error)`,
		key.RunID, int64(key.Seq), key.Actor, kind, status.String(), fires, errText)
	if execErr != nil {
		return fmt.Errorf("record %s step %d: %w", key.Actor, key.Seq, execErr)
	}
	return nil
}

// GetStatus returns StatusPending for keys never written.
func (s *Store) GetStatus(ctx context.Context, key nodestore.Key) (nodestore.Status, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM actor_steps WHERE run_id = ? AND seq = ? AND actor = ?`,
		key.RunID, int64(key.Seq), key.Actor).Scan(&name)
	if err == sql.ErrNoRows {
		return nodestore.StatusPending, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query status of %s: %w", key.Actor, err)
	}
	return nodestore.ParseStatus(name)
}

// Records returns every record of a run ordered by step then actor name.
func (s *Store) Records(ctx context.Context, runID string) ([]nodestore.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, actor, kind, status, fires, error
		FROM actor_steps WHERE run_id = ?
		ORDER BY seq, actor`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []nodestore.Record
	for rows.Next() {
		var (
			seq     int64
			status  string
			errText sql.NullString
			rec     = nodestore.Record{Key: nodestore.Key{RunID: runID}}
		)
		if err := rows.Scan(&seq, &rec.Actor, &rec.Kind, &status, &rec.Fires, &errText); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Seq = uint64(seq)
		if rec.Status, err = nodestore.ParseStatus(status); err != nil {
			return nil, err
		}
		rec.Err = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BeginRun inserts the row of a new run.
func (s *Store) BeginRun(ctx context.Context, runID, program, strategy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, program, strategy) VALUES (?, ?, ?)`,
		runID, program, strategy)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// EndRun closes the row of a run with its outcome.
func (s *Store) EndRun(ctx context.Context, runID string, steps int64, runErr error) error {
	status := "done"
	var errText sql.NullString
	if runErr != nil {
		status = "failed"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
			steps = ?, status = ?, error = ?
		WHERE run_id = ?`, steps, status, errText, runID)
	if err != nil {
		return fmt.Errorf("end run %s: %w", runID, err)
	}
	return nil
}

// Run is one row of the runs table.
type Run struct {
	RunID    string
	Program  string
	Strategy string
	Steps    int64
	Status   string
	Err      string
}

// Runs lists the recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, program, strategy, steps, status, error FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.Program, &r.Strategy, &r.Steps, &r.Status, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Err = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}
