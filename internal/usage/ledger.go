// Package usage keeps a SQLite ledger of the tokens each user consumed.
// Only counts are stored; conversation content never leaves memory.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/cron"
	"github.com/flemzord/parley/internal/provider"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrEmptyUser is returned when a record has no user ID.
var ErrEmptyUser = errors.New("usage: user id is required")

// Totals summarizes a user's recorded usage.
type Totals struct {
	UserID           string     `json:"user_id"`
	Requests         int64      `json:"requests"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	TotalTokens      int64      `json:"total_tokens"`
	FirstAt          *time.Time `json:"first_at,omitempty"`
	LastAt           *time.Time `json:"last_at,omitempty"`
}

// Ledger is a SQLite-backed usage store. All methods are safe for
// concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database described by cfg.
//
// The database is created with WAL mode, the configured busy timeout, and a
// single connection (SQLite serialises writes). The schema is migrated
// automatically.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	cfg.Defaults("")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("usage: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("usage: ledger opened", "path", cfg.Path)
	return &Ledger{db: db, logger: logger, now: time.Now}, nil
}

// RecordUsage appends one usage record for userID.
func (l *Ledger) RecordUsage(ctx context.Context, userID, model string, u provider.TokenUsage) error {
	if userID == "" {
		return ErrEmptyUser
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, model,
		u.PromptTokens, u.CompletionTokens, total,
		l.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}
	return nil
}

// Totals returns the aggregated usage of userID. A user without records
// yields zero totals and no error.
func (l *Ledger) Totals(ctx context.Context, userID string) (Totals, error) {
	var (
		t         = Totals{UserID: userID}
		firstNano sql.NullInt64
		lastNano  sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       MIN(created_at),
		       MAX(created_at)
		FROM usage_records
		WHERE user_id = ?`,
		userID,
	).Scan(&t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &firstNano, &lastNano)
	if err != nil {
		return Totals{}, fmt.Errorf("usage: totals: %w", err)
	}

	if firstNano.Valid {
		first := time.Unix(0, firstNano.Int64).UTC()
		t.FirstAt = &first
	}
	if lastNano.Valid {
		last := time.Unix(0, lastNano.Int64).UTC()
		t.LastAt = &last
	}
	return t, nil
}

// Purge deletes records created before the given time and returns how
// many were removed.
func (l *Ledger) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM usage_records WHERE created_at < ?", before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("usage: purge: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("usage: rows affected: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Interface guards.
var (
	_ assistant.UsageRecorder = (*Ledger)(nil)
	_ cron.UsagePurger        = (*Ledger)(nil)
)
