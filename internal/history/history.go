// Package history stores the learner's practice results.
//
// A [Record] summarises one finished course run: the average score and the
// per-sentence scores. Stores keep the newest records first and drop the
// oldest once a configurable cap is reached. Two backends exist: SQLite for
// single-user installs and PostgreSQL for shared deployments. [Publishing]
// wraps either one and announces every added record on NATS.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speakwise/internal/config"
)

// DefaultLimit caps stores created without an explicit limit.
const DefaultLimit = config.DefaultMaxRecords

// Detail is the score of one practised sentence.
type Detail struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Record is one finished practice run.
type Record struct {
	ID           string   `json:"id"`
	CourseID     string   `json:"courseId"`
	CourseTitle  string   `json:"courseTitle"`
	AverageScore float64  `json:"averageScore"`
	Timestamp    int64    `json:"timestamp"` // Unix milliseconds
	Details      []Detail `json:"details"`
}

// Validate reports whether r can be stored.
func (r *Record) Validate() error {
	var errs []error
	if r.CourseID == "" {
		errs = append(errs, errors.New("courseId is required"))
	}
	if math.IsNaN(r.AverageScore) || r.AverageScore < 0 || r.AverageScore > 100 {
		errs = append(errs, fmt.Errorf("averageScore %v is out of range [0, 100]", r.AverageScore))
	}
	for i, d := range r.Details {
		if math.IsNaN(d.Score) || d.Score < 0 || d.Score > 100 {
			errs = append(errs, fmt.Errorf("details[%d].score %v is out of range [0, 100]", i, d.Score))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("history: invalid record: %w", err)
	}
	return nil
}

// prepare fills the server-assigned fields of r.
func prepare(r Record, now func() time.Time) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = now().UnixMilli()
	}
	if r.Details == nil {
		r.Details = []Detail{}
	}
	return r
}

// Store persists practice records.
type Store interface {
	// Add validates r, assigns ID and Timestamp when unset, stores it as the
	// newest record and drops the oldest records beyond the cap. It returns
	// the stored record.
	Add(ctx context.Context, r Record) (Record, error)

	// List returns up to limit records, newest first. A limit of zero or less
	// returns every stored record.
	List(ctx context.Context, limit int) ([]Record, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Open creates the store selected by cfg and ensures its schema exists.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case config.HistorySQLite, "":
		return OpenSQLite(ctx, cfg.DSN, cfg.MaxRecords)
	case config.HistoryPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxRecords)
	default:
		return nil, fmt.Errorf("history: unknown driver %q", cfg.Driver)
	}
}

// Ping checks the backend behind s. Stores without a connection to check
// report healthy.
func Ping(ctx context.Context, s Store) error {
	for {
		switch v := s.(type) {
		case interface{ Ping(context.Context) error }:
			return v.Ping(ctx)
		case *PublishingStore:
			s = v.Store
		default:
			return nil
		}
	}
}
