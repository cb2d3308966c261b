// Package storage persists bot settings, the subscriber list, and the last
// check result in a local sqlite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"citawatch/pkg/slots"
)

// Settings keys. Values are stored as strings; integer keys are parsed on
// read with a caller-supplied default.
const (
	KeyInterval       = "interval_seconds"
	KeyMonitorEnabled = "monitor_enabled"
	KeyLastDigest     = "last_digest"
	KeyLastHasSlots   = "last_has_slots"
	KeyEmptyStreak    = "empty_streak"
	KeyCooldownUntil  = "cooldown_until"
	KeyLastError      = "last_error"
)

// MinIntervalSeconds floors the check interval. Faster checks gain nothing
// and risk tripping the site's automation defenses.
const MinIntervalSeconds = 30

const schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	chat_id    INTEGER PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS last_check (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	checked_at      TEXT,
	has_slots       INTEGER,
	summary         TEXT,
	digest          TEXT,
	screenshot_path TEXT
);
`

// Store wraps the sqlite database. Every operation is atomic per statement
// and durable across restarts (WAL journal).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs; the
	// mattn-style _journal_mode form is silently ignored by this driver.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// AddSubscriber registers a chat for notifications. Adding an existing
// subscriber is a no-op.
func (s *Store) AddSubscriber(ctx context.Context, chatID int64, createdAt string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers(chat_id, created_at) VALUES(?, ?)`,
		chatID, createdAt)
	if err != nil {
		return fmt.Errorf("add subscriber: %w", err)
	}
	return nil
}

// RemoveSubscriber unregisters a chat. Removing an unknown chat is a no-op.
func (s *Store) RemoveSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("remove subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns all subscribed chat ids, oldest first.
func (s *Store) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM subscribers ORDER BY created_at, chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return ids, nil
}

// SetSetting upserts a string-valued setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Setting returns a setting value, or "" when the key has never been set.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// IntSetting returns an integer setting, falling back to def when the key
// is unset or unparsable.
func (s *Store) IntSetting(ctx context.Context, key string, def int) (int, error) {
	raw, err := s.Setting(ctx, key)
	if err != nil {
		return def, err
	}
	n, convErr := strconv.Atoi(raw)
	if raw == "" || convErr != nil {
		return def, nil
	}
	return n, nil
}

// IntervalSeconds returns the configured check interval, floored at
// MinIntervalSeconds.
func (s *Store) IntervalSeconds(ctx context.Context, def int) (int, error) {
	n, err := s.IntSetting(ctx, KeyInterval, def)
	if err != nil {
		return def, err
	}
	if n < MinIntervalSeconds {
		n = MinIntervalSeconds
	}
	return n, nil
}

// SaveLastCheck records res as the most recent completed check, replacing
// any previous record.
func (s *Store) SaveLastCheck(ctx context.Context, res *slots.CheckResult) error {
	hasSlots := 0
	if res.HasSlots {
		hasSlots = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_check(id, checked_at, has_slots, summary, digest, screenshot_path)
		 VALUES(1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			checked_at = excluded.checked_at,
			has_slots = excluded.has_slots,
			summary = excluded.summary,
			digest = excluded.digest,
			screenshot_path = excluded.screenshot_path`,
		res.CheckedAt, hasSlots, res.Summary, res.Digest, res.ScreenshotPath)
	if err != nil {
		return fmt.Errorf("save last check: %w", err)
	}
	return nil
}

// LastCheck returns the most recent completed check, or nil when no check
// has completed yet.
func (s *Store) LastCheck(ctx context.Context) (*slots.CheckResult, error) {
	var (
		res      slots.CheckResult
		hasSlots int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT checked_at, has_slots, summary, digest, screenshot_path
		 FROM last_check WHERE id = 1`).
		Scan(&res.CheckedAt, &hasSlots, &res.Summary, &res.Digest, &res.ScreenshotPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last check: %w", err)
	}
	res.HasSlots = hasSlots != 0
	return &res, nil
}
