package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/narvoxlabs/narvox-core/internal/config"
	_ "modernc.org/sqlite"
)

// Attempt records one generation attempt, successful or not.
type Attempt struct {
	ID              int64
	RequestID       string
	Backend         string
	Text            string
	State           string
	DurationSeconds float64
	Error           string
	CreatedAt       time.Time
}

// Store wraps a SQLite-backed synthesis attempt log.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. Ephemeral mode
// keeps nothing.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT,
    backend TEXT,
    text TEXT NOT NULL,
    state TEXT NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordAttempt appends one attempt row.
func (s *Store) RecordAttempt(ctx context.Context, att Attempt) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(request_id, backend, text, state, duration_seconds, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		att.RequestID, att.Backend, att.Text, att.State, att.DurationSeconds, att.Error, att.CreatedAt)
	return err
}

// ListRecent returns up to limit attempts, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Attempt, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, backend, text, state, duration_seconds, error, created_at
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var att Attempt
		if err := rows.Scan(&att.ID, &att.RequestID, &att.Backend, &att.Text, &att.State,
			&att.DurationSeconds, &att.Error, &att.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, att)
	}
	return attempts, rows.Err()
}

// Prune enforces the retention policy: persistent mode drops rows older
// than retention_days, and all persistent modes cap the table at
// max_attempts.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if s.cfg.RetentionMode == "persistent" && s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM attempts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxAttempts > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM attempts WHERE id NOT IN (
			   SELECT id FROM attempts ORDER BY id DESC LIMIT ?)`,
			s.cfg.MaxAttempts); err != nil {
			return err
		}
	}
	return nil
}
