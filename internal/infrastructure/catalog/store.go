// ABOUTME: SQLite catalog of acquisition runs
// ABOUTME: Records each session's artifact, counters, and outcome
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/harper/biosignal-recorder/internal/domain"
)

// Store wraps a sqlx.DB connection to the catalog database.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the catalog at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		path = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// one writer, and a shared :memory: database in tests
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL DEFAULT '',
			mac_address TEXT NOT NULL,
			sampling_rate INTEGER NOT NULL,
			channels INTEGER NOT NULL DEFAULT 0,
			started_at REAL NOT NULL,
			ended_at REAL,
			rows_persisted INTEGER NOT NULL DEFAULT 0,
			flush_failures INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			error TEXT
		)`)
	if err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

type sessionRow struct {
	ID            string          `db:"id"`
	Filename      string          `db:"filename"`
	MACAddress    string          `db:"mac_address"`
	SamplingRate  int             `db:"sampling_rate"`
	Channels      int             `db:"channels"`
	StartedAt     float64         `db:"started_at"`
	EndedAt       sql.NullFloat64 `db:"ended_at"`
	RowsPersisted int64           `db:"rows_persisted"`
	FlushFailures int64           `db:"flush_failures"`
	Status        string          `db:"status"`
	Error         sql.NullString  `db:"error"`
}

func (r sessionRow) record() domain.SessionRecord {
	rec := domain.SessionRecord{
		ID:            r.ID,
		Filename:      r.Filename,
		MACAddress:    r.MACAddress,
		SamplingRate:  r.SamplingRate,
		Channels:      r.Channels,
		StartedAt:     timeFromUnix(r.StartedAt),
		RowsPersisted: r.RowsPersisted,
		FlushFailures: r.FlushFailures,
		Status:        domain.SessionStatus(r.Status),
	}
	if r.EndedAt.Valid {
		t := timeFromUnix(r.EndedAt.Float64)
		rec.EndedAt = &t
	}
	if r.Error.Valid {
		rec.Error = r.Error.String
	}
	return rec
}

// BeginSession inserts an active run.
func (s *Store) BeginSession(ctx context.Context, rec domain.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, filename, mac_address, sampling_rate, channels, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.MACAddress, rec.SamplingRate, rec.Channels,
		unixFromTime(rec.StartedAt), string(domain.StatusActive))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

// EndSession stores the final counters and outcome of a run.
func (s *Store) EndSession(ctx context.Context, rec domain.SessionRecord) error {
	ended := time.Now()
	if rec.EndedAt != nil {
		ended = *rec.EndedAt
	}
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET filename = ?, channels = ?, ended_at = ?, rows_persisted = ?,
			flush_failures = ?, status = ?, error = ?
		WHERE id = ?`,
		rec.Filename, rec.Channels, unixFromTime(ended), rec.RowsPersisted,
		rec.FlushFailures, string(rec.Status), errText, rec.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update session %s: not found", rec.ID)
	}
	return nil
}

// RecentSessions returns up to limit runs, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, filename, mac_address, sampling_rate, channels, started_at, ended_at,
			rows_persisted, flush_failures, status, error
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	out := make([]domain.SessionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
