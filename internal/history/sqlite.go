package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS score_records (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    course_id     TEXT NOT NULL,
    course_title  TEXT NOT NULL DEFAULT '',
    average_score REAL NOT NULL,
    timestamp     INTEGER NOT NULL,
    details       TEXT NOT NULL DEFAULT '[]'
);
`

// SQLiteStore is a [Store] backed by a local SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	limit int
	clock func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database file at path. limit caps
// the number of kept records; zero selects [DefaultLimit].
func OpenSQLite(ctx context.Context, path string, limit int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate sqlite: %w", err)
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	return &SQLiteStore{db: db, limit: limit, clock: time.Now}, nil
}

// Add implements [Store].
func (s *SQLiteStore) Add(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	r = prepare(r, s.clock)
	details, err := json.Marshal(r.Details)
	if err != nil {
		return Record{}, fmt.Errorf("history: marshal details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO score_records(id, course_id, course_title, average_score, timestamp, details)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		r.ID, r.CourseID, r.CourseTitle, r.AverageScore, r.Timestamp, string(details))
	if err != nil {
		return Record{}, fmt.Errorf("history: insert: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM score_records WHERE seq NOT IN
		 (SELECT seq FROM score_records ORDER BY seq DESC LIMIT ?)`, s.limit)
	if err != nil {
		return Record{}, fmt.Errorf("history: prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("history: commit: %w", err)
	}
	return r, nil
}

// List implements [Store].
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, course_title, average_score, timestamp, details
		 FROM score_records ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r       Record
			details string
		)
		if err := rows.Scan(&r.ID, &r.CourseID, &r.CourseTitle, &r.AverageScore, &r.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("history: decode details of %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Clear implements [Store].
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM score_records`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [Store].
func (s *SQLiteStore) Close() error { return s.db.Close() }
