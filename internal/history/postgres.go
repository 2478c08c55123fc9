package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the SQL DDL for the score_records table. [OpenPostgres]
// applies it; deployments that manage schemas themselves can apply it by hand.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS score_records (
    seq           BIGSERIAL PRIMARY KEY,
    id            TEXT NOT NULL UNIQUE,
    course_id     TEXT NOT NULL,
    course_title  TEXT NOT NULL DEFAULT '',
    average_score DOUBLE PRECISION NOT NULL,
    timestamp     BIGINT NOT NULL,
    details       JSONB NOT NULL DEFAULT '[]'
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	pool  *pgxpool.Pool // set when the store owns its pool
	limit int
	clock func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db. The caller owns db and must call
// [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB, limit int) *PostgresStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PostgresStore{db: db, limit: limit, clock: time.Now}
}

// OpenPostgres connects a pool to dsn, migrates the schema and returns a
// store that closes the pool on Close.
func OpenPostgres(ctx context.Context, dsn string, limit int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	s := NewPostgresStore(pool, limit)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Add implements [Store].
func (s *PostgresStore) Add(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	r = prepare(r, s.clock)
	details, err := json.Marshal(r.Details)
	if err != nil {
		return Record{}, fmt.Errorf("history: marshal details: %w", err)
	}

	const insert = `
		INSERT INTO score_records (id, course_id, course_title, average_score, timestamp, details)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.Exec(ctx, insert, r.ID, r.CourseID, r.CourseTitle, r.AverageScore, r.Timestamp, details); err != nil {
		return Record{}, fmt.Errorf("history: insert: %w", err)
	}

	const prune = `
		DELETE FROM score_records WHERE seq IN (
			SELECT seq FROM score_records ORDER BY seq DESC OFFSET $1
		)`
	if _, err := s.db.Exec(ctx, prune, s.limit); err != nil {
		return Record{}, fmt.Errorf("history: prune: %w", err)
	}
	return r, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	const query = `
		SELECT id, course_id, course_title, average_score, timestamp, details
		FROM score_records
		ORDER BY seq DESC
		LIMIT $1`

	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r       Record
			details []byte
		)
		if err := rows.Scan(&r.ID, &r.CourseID, &r.CourseTitle, &r.AverageScore, &r.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if err := json.Unmarshal(details, &r.Details); err != nil {
			return nil, fmt.Errorf("history: decode details of %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list rows: %w", err)
	}
	return records, nil
}

// Clear implements [Store].
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM score_records`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Ping checks the connection when the store owns its pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close implements [Store]. It closes the pool only if the store opened it.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
