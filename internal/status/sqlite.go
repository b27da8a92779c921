package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"setup-wizard/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS onboarding_status (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	version      TEXT    NOT NULL,
	completed    INTEGER NOT NULL DEFAULT 0,
	current_step INTEGER NOT NULL,
	model_status TEXT    NOT NULL,
	last_updated REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const upsertStatus = `
INSERT INTO onboarding_status (id, version, completed, current_step, model_status, last_updated)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	version      = excluded.version,
	completed    = excluded.completed,
	current_step = excluded.current_step,
	model_status = excluded.model_status,
	last_updated = excluded.last_updated
`

const summaryModelKey = "summary_model"

// SQLiteStore keeps the onboarding record in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the stored record, or nil when none exists.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.PersistedOnboardingStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, completed, current_step, model_status, last_updated
		FROM onboarding_status
		WHERE id = 1
	`)

	var rec domain.PersistedOnboardingStatus
	var completed int
	var modelStatus string
	var lastUpdated float64
	if err := row.Scan(&rec.Version, &completed, &rec.CurrentStep, &modelStatus, &lastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan onboarding status: %w", err)
	}

	rec.Completed = completed != 0
	rec.LastUpdated = timeFromUnix(lastUpdated)
	if err := json.Unmarshal([]byte(modelStatus), &rec.ModelStatus); err != nil {
		return nil, fmt.Errorf("decode model status: %w", err)
	}
	return &rec, nil
}

// Save overwrites the record in one statement.
func (s *SQLiteStore) Save(ctx context.Context, rec domain.PersistedOnboardingStatus) error {
	return s.write(ctx, s.db, normalizeRecord(rec))
}

// Finalize marks onboarding completed and records the summary model choice atomically.
func (s *SQLiteStore) Finalize(ctx context.Context, summaryModel string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	if err := s.write(ctx, tx, finalRecord(time.Now())); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, summaryModelKey, summaryModel); err != nil {
		return fmt.Errorf("store summary model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// SummaryModel returns the finalized summary model, or "" when none was chosen.
func (s *SQLiteStore) SummaryModel(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, summaryModelKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query summary model: %w", err)
	}
	return value, nil
}

// Reset deletes the onboarding record and the summary model choice.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM onboarding_status`); err != nil {
		return fmt.Errorf("delete onboarding status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, summaryModelKey); err != nil {
		return fmt.Errorf("delete summary model: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) write(ctx context.Context, db execer, rec domain.PersistedOnboardingStatus) error {
	modelStatus, err := json.Marshal(rec.ModelStatus)
	if err != nil {
		return fmt.Errorf("encode model status: %w", err)
	}

	completed := 0
	if rec.Completed {
		completed = 1
	}
	if _, err := db.ExecContext(ctx, upsertStatus,
		rec.Version, completed, rec.CurrentStep, string(modelStatus), unixFromTime(rec.LastUpdated)); err != nil {
		return fmt.Errorf("write onboarding status: %w", err)
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
