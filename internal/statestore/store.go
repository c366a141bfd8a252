// Package statestore persists run history and live resource records in a
// SQLite database so that later invocations can reuse, report on and tear
// down what an earlier `up` created.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/remotebox/internal/executor"
	"github.com/specialistvlad/remotebox/internal/resource"
	_ "modernc.org/sqlite"
)

// ErrNoRuns is returned when no finished run matches a query.
var ErrNoRuns = errors.New("no successful run recorded")

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed state file shared by every pipeline that points
// at it. Resource records are reached through ForPipeline.
type Store struct {
	db *sql.DB
}

// PipelineResources is the set of resource records owned by one pipeline.
// It implements resource.Store.
type PipelineResources struct {
	db       *sql.DB
	pipeline string
}

var _ resource.Store = (*PipelineResources)(nil)

// Run is one recorded `up` invocation.
type Run struct {
	ID       string
	Pipeline string
	Status   string
	Started  time.Time
	Ended    time.Time
	Outputs  map[string]string
}

// NodeRun is the final state of one node within a run.
type NodeRun struct {
	Node     string
	State    string
	Attempts int
	Error    string
	Started  time.Time
	Ended    time.Time
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	// Observers write from several workers; SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		outputs TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE TABLE IF NOT EXISTS node_runs (
		run_id TEXT NOT NULL,
		node TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT,
		ended_at TEXT,
		PRIMARY KEY (run_id, node),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS resources (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline TEXT NOT NULL,
		address TEXT NOT NULL,
		kind TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		outputs TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (pipeline, address)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Runs ---

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id, pipeline string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, pipeline, now(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome and outputs of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status executor.Status, outputs map[string]string) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, outputs = ?, ended_at = ? WHERE id = ?`,
		string(status), string(data), now(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s was never started", id)
	}
	return nil
}

// LastSuccessfulRun returns the most recent successful run of pipeline.
func (s *Store) LastSuccessfulRun(ctx context.Context, pipeline string) (*Run, error) {
	var (
		run            Run
		outputs        sql.NullString
		started, ended string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, status, outputs, started_at, ended_at FROM runs
		 WHERE pipeline = ? AND status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		pipeline, string(executor.Success),
	).Scan(&run.ID, &run.Pipeline, &run.Status, &outputs, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.Started = parseTime(started)
	run.Ended = parseTime(ended)
	run.Outputs = map[string]string{}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &run.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// Runs lists every recorded run of pipeline, newest first. A run that never
// finished keeps the status "running".
func (s *Store) Runs(ctx context.Context, pipeline string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline, status, started_at, ended_at FROM runs
		 WHERE pipeline = ? ORDER BY started_at DESC, rowid DESC`, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run     Run
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Pipeline, &run.Status, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Started = parseTime(started)
		run.Ended = parseTime(ended.String)
		out = append(out, run)
	}
	return out, rows.Err()
}

// NodeRuns lists the recorded node states of a run, ordered by node name.
func (s *Store) NodeRuns(ctx context.Context, runID string) ([]NodeRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node, state, attempts, error, started_at, ended_at FROM node_runs
		 WHERE run_id = ? ORDER BY node`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node runs: %w", err)
	}
	defer rows.Close()

	var out []NodeRun
	for rows.Next() {
		var (
			nr                  NodeRun
			errText, start, end sql.NullString
		)
		if err := rows.Scan(&nr.Node, &nr.State, &nr.Attempts, &errText, &start, &end); err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}
		nr.Error = errText.String
		nr.Started = parseTime(start.String)
		nr.Ended = parseTime(end.String)
		out = append(out, nr)
	}
	return out, rows.Err()
}

func (s *Store) nodeStarted(ctx context.Context, runID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_runs (run_id, node, state, started_at) VALUES (?, ?, 'running', ?)
		 ON CONFLICT(run_id, node) DO UPDATE SET state = excluded.state, started_at = excluded.started_at`,
		runID, name, now(),
	)
	return err
}

func (s *Store) nodeFinished(ctx context.Context, runID, name string, r executor.NodeResult) error {
	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	var started, ended sql.NullString
	if !r.Start.IsZero() {
		started = sql.NullString{String: r.Start.UTC().Format(timeLayout), Valid: true}
	}
	if !r.End.IsZero() {
		ended = sql.NullString{String: r.End.UTC().Format(timeLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_runs (run_id, node, state, attempts, error, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			error = excluded.error,
			started_at = COALESCE(excluded.started_at, node_runs.started_at),
			ended_at = excluded.ended_at`,
		runID, name, r.State.String(), r.Attempts, errText, started, ended,
	)
	return err
}

// --- Resources ---

// ForPipeline scopes resource records to the named pipeline. Records saved
// by one pipeline are never visible to another.
func (s *Store) ForPipeline(name string) *PipelineResources {
	return &PipelineResources{db: s.db, pipeline: name}
}

// LookupResource returns the record saved for address.
func (p *PipelineResources) LookupResource(ctx context.Context, address string) (resource.Record, bool, error) {
	var (
		rec     resource.Record
		outputs string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT address, kind, remote_id, outputs FROM resources WHERE pipeline = ? AND address = ?`,
		p.pipeline, address,
	).Scan(&rec.Address, &rec.Kind, &rec.ID, &outputs)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Record{}, false, nil
	}
	if err != nil {
		return resource.Record{}, false, fmt.Errorf("query resource: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return resource.Record{}, false, fmt.Errorf("decode outputs of %s: %w", address, err)
	}
	return rec, true, nil
}

// SaveResource inserts or updates a record. An updated record keeps its
// original position in creation order.
func (p *PipelineResources) SaveResource(ctx context.Context, rec resource.Record) error {
	data, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	ts := now()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO resources (pipeline, address, kind, remote_id, outputs, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline, address) DO UPDATE SET
			kind = excluded.kind,
			remote_id = excluded.remote_id,
			outputs = excluded.outputs,
			updated_at = excluded.updated_at`,
		p.pipeline, rec.Address, rec.Kind, rec.ID, string(data), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("save resource %s: %w", rec.Address, err)
	}
	return nil
}

// DeleteResource forgets a record. Deleting an unknown address is a no-op.
func (p *PipelineResources) DeleteResource(ctx context.Context, address string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM resources WHERE pipeline = ? AND address = ?`, p.pipeline, address,
	); err != nil {
		return fmt.Errorf("delete resource %s: %w", address, err)
	}
	return nil
}

// List returns every live record of the pipeline in creation order.
func (p *PipelineResources) List(ctx context.Context) ([]resource.Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT address, kind, remote_id, outputs FROM resources WHERE pipeline = ? ORDER BY seq`, p.pipeline,
	)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	var out []resource.Record
	for rows.Next() {
		var (
			rec     resource.Record
			outputs string
		)
		if err := rows.Scan(&rec.Address, &rec.Kind, &rec.ID, &outputs); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs of %s: %w", rec.Address, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
