// Package sqlite archives probe runs in a SQLite database so traces from
// separate invocations can be compared later.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lukemcguire/throttleprobe/result"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	phase       TEXT NOT NULL,
	account     TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	stop_reason TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id           INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	request_number   INTEGER NOT NULL,
	timestamp        TEXT NOT NULL,
	success          INTEGER NOT NULL,
	response_code    INTEGER NOT NULL,
	response_time_ns INTEGER NOT NULL,
	error_type       TEXT NOT NULL DEFAULT '',
	data_type        TEXT NOT NULL DEFAULT '',
	captcha_detected INTEGER NOT NULL,
	rate_limited     INTEGER NOT NULL,
	blocked          INTEGER NOT NULL,
	response_size    INTEGER NOT NULL,
	response_headers TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, request_number)
);
`

// ErrRunNotFound is returned by LoadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one archived probe run.
type Run struct {
	ID         int64
	Phase      string
	Account    string
	Name       string // File name the trace was saved under, if any
	StopReason string
	CreatedAt  time.Time
	Trace      *result.Trace
}

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens or creates the database at path and initializes the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SaveRun stores run and its full trace in one transaction and returns the
// new run id. run.ID and run.CreatedAt are ignored.
func (db *DB) SaveRun(ctx context.Context, run Run) (id int64, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (phase, account, name, stop_reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.Phase, run.Account, run.Name, run.StopReason, db.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, request_number, timestamp, success, response_code,
			response_time_ns, error_type, data_type, captcha_detected, rate_limited, blocked,
			response_size, response_headers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare result insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range run.Trace.Results() {
		headers, err := json.Marshal(r.ResponseHeaders)
		if err != nil {
			return 0, fmt.Errorf("encode headers for request %d: %w", r.RequestNumber, err)
		}
		if _, err := stmt.ExecContext(ctx,
			id, r.RequestNumber, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Success, r.ResponseCode,
			int64(r.ResponseTime), string(r.ErrorType), r.DataType, r.CaptchaDetected, r.RateLimited,
			r.Blocked, r.ResponseSize, string(headers),
		); err != nil {
			return 0, fmt.Errorf("insert request %d: %w", r.RequestNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// LoadRun reads a run and its trace back.
func (db *DB) LoadRun(ctx context.Context, id int64) (*Run, error) {
	run := Run{ID: id}
	var createdAt string
	err := db.conn.QueryRowContext(ctx, `
		SELECT phase, account, name, stop_reason, created_at FROM runs WHERE id = ?`, id,
	).Scan(&run.Phase, &run.Account, &run.Name, &run.StopReason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load run %d: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", id, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of run %d: %w", id, err)
	}

	if run.Trace, err = db.loadTrace(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

func (db *DB) loadTrace(ctx context.Context, runID int64) (trace *result.Trace, err error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT request_number, timestamp, success, response_code, response_time_ns, error_type,
			data_type, captcha_detected, rate_limited, blocked, response_size, response_headers
		FROM results WHERE run_id = ? ORDER BY request_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results of run %d: %w", runID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", closeErr)
		}
	}()

	trace = &result.Trace{}
	for rows.Next() {
		var r result.TestResult
		var ts, errType, headers string
		var responseNanos int64
		if err := rows.Scan(&r.RequestNumber, &ts, &r.Success, &r.ResponseCode, &responseNanos,
			&errType, &r.DataType, &r.CaptchaDetected, &r.RateLimited, &r.Blocked,
			&r.ResponseSize, &headers); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp of request %d: %w", r.RequestNumber, err)
		}
		if err := json.Unmarshal([]byte(headers), &r.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("decode headers of request %d: %w", r.RequestNumber, err)
		}
		r.ResponseTime = time.Duration(responseNanos)
		r.ErrorType = result.ErrorType(errType)
		if err := trace.Append(r); err != nil {
			return nil, fmt.Errorf("rebuild trace of run %d: %w", runID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return trace, nil
}

// RunSummary is a list entry for an archived run.
type RunSummary struct {
	ID         int64
	Phase      string
	Account    string
	StopReason string
	CreatedAt  time.Time
	Attempts   int
	Successes  int
}

// ListRuns returns archived runs, newest first.
func (db *DB) ListRuns(ctx context.Context) (summaries []RunSummary, err error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.id, r.phase, r.account, r.stop_reason, r.created_at,
			COUNT(x.request_number), COALESCE(SUM(x.success), 0)
		FROM runs r LEFT JOIN results x ON x.run_id = r.id
		GROUP BY r.id ORDER BY r.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var s RunSummary
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Phase, &s.Account, &s.StopReason, &createdAt, &s.Attempts, &s.Successes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of run %d: %w", s.ID, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return summaries, nil
}
