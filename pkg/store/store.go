// Package store persists execution records, the append-only log stream, and
// write-once test results in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ormasoftchile/radproof/pkg/runtime"
)

// Store wraps a SQLite database. It implements runtime.LogSink, so an
// execution logger can fan entries directly into it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at the given path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		doc TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		doc TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		status TEXT NOT NULL,
		result_id TEXT
	);

	CREATE TABLE IF NOT EXISTS log_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		entry_seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		raw_details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_log_entries_execution
		ON log_entries(execution_id, entry_seq);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL UNIQUE,
		scenario_name TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		latency_ms INTEGER NOT NULL,
		target TEXT NOT NULL,
		details TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutScenario stores (or replaces) a scenario document snapshot.
func (s *Store) PutScenario(id, name, doc string) error {
	_, err := s.db.Exec(`
		INSERT INTO scenarios (id, name, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, doc = excluded.doc, updated_at = excluded.updated_at
	`, id, name, doc, time.Now())
	if err != nil {
		return fmt.Errorf("put scenario: %w", err)
	}
	return nil
}

// GetScenario returns the stored scenario document.
func (s *Store) GetScenario(id string) (string, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM scenarios WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("scenario %q not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("get scenario: %w", err)
	}
	return doc, nil
}

// PutTarget stores (or replaces) a target document snapshot.
func (s *Store) PutTarget(id, name, doc string) error {
	_, err := s.db.Exec(`
		INSERT INTO targets (id, name, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, doc = excluded.doc, updated_at = excluded.updated_at
	`, id, name, doc, time.Now())
	if err != nil {
		return fmt.Errorf("put target: %w", err)
	}
	return nil
}

// GetTarget returns the stored target document.
func (s *Store) GetTarget(id string) (string, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM targets WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("target %q not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("get target: %w", err)
	}
	return doc, nil
}

// CreateExecution inserts a new execution record (status Running).
func (s *Store) CreateExecution(rec *runtime.ExecutionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (id, scenario_id, target_id, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.ScenarioID, rec.TargetID, rec.StartedAt, string(rec.Status))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// FinishExecution writes the terminal state of an execution record.
func (s *Store) FinishExecution(rec *runtime.ExecutionRecord) error {
	res, err := s.db.Exec(`
		UPDATE executions SET ended_at = ?, status = ?, result_id = ? WHERE id = ?
	`, rec.EndedAt, string(rec.Status), rec.ResultID, rec.ID)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %q not found", rec.ID)
	}
	return nil
}

// GetExecution loads one execution record.
func (s *Store) GetExecution(id string) (*runtime.ExecutionRecord, error) {
	var rec runtime.ExecutionRecord
	var status string
	var endedAt sql.NullTime
	var resultID sql.NullString
	err := s.db.QueryRow(`
		SELECT id, scenario_id, target_id, started_at, ended_at, status, result_id
		FROM executions WHERE id = ?
	`, id).Scan(&rec.ID, &rec.ScenarioID, &rec.TargetID, &rec.StartedAt, &endedAt, &status, &resultID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	rec.Status = runtime.ExecStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if resultID.Valid {
		rec.ResultID = resultID.String
	}
	return &rec, nil
}

// AppendLog implements runtime.LogSink: one ordered, append-only row per
// entry. Entries are never updated or deleted.
func (s *Store) AppendLog(entry runtime.LogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO log_entries (id, execution_id, entry_seq, timestamp, level, message, raw_details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ExecutionID, entry.Seq, entry.Timestamp, entry.Level, entry.Message, entry.RawDetails)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Logs returns the ordered log stream for an execution, starting after the
// given entry sequence (0 returns everything).
func (s *Store) Logs(executionID string, afterSeq int64) ([]runtime.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, execution_id, entry_seq, timestamp, level, message, raw_details
		FROM log_entries
		WHERE execution_id = ? AND entry_seq > ?
		ORDER BY entry_seq
	`, executionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []runtime.LogEntry
	for rows.Next() {
		var e runtime.LogEntry
		var raw sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Seq, &e.Timestamp, &e.Level, &e.Message, &raw); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if raw.Valid {
			e.RawDetails = raw.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveResult persists a test result. The unique execution_id constraint
// enforces the write-once contract; a second write for the same execution
// is an error.
func (s *Store) SaveResult(executionID string, res *runtime.TestResult) error {
	details, err := json.Marshal(res.Details)
	if err != nil {
		return fmt.Errorf("marshal result details: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO results (id, execution_id, scenario_name, status, timestamp, latency_ms, target, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, executionID, res.ScenarioName, string(res.Status), res.Timestamp, res.LatencyMS, res.Target, string(details))
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ResultForExecution loads the result linked to an execution id.
func (s *Store) ResultForExecution(executionID string) (*runtime.TestResult, error) {
	row := s.db.QueryRow(`
		SELECT id, scenario_name, status, timestamp, latency_ms, target, details
		FROM results WHERE execution_id = ?
	`, executionID)
	return scanResult(row)
}

// ListResults returns the most recent results, newest first.
func (s *Store) ListResults(limit int) ([]*runtime.TestResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, scenario_name, status, timestamp, latency_ms, target, details
		FROM results ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []*runtime.TestResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*runtime.TestResult, error) {
	var res runtime.TestResult
	var status, details string
	err := row.Scan(&res.ID, &res.ScenarioName, &status, &res.Timestamp, &res.LatencyMS, &res.Target, &details)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	res.Status = runtime.ResultStatus(status)
	if err := json.Unmarshal([]byte(details), &res.Details); err != nil {
		return nil, fmt.Errorf("unmarshal result details: %w", err)
	}
	return &res, nil
}
