// Copyright 2024-2026 Aiku AI

// Package store persists bind entries and the operator record in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
)

// Owner is the operator record written when the bot is first claimed.
type Owner struct {
	UserID int64
	ChatID int64
}

// SQLiteStore implements [connector.BindStore] on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ connector.BindStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS binds (
		network_id TEXT PRIMARY KEY,
		kind       INTEGER NOT NULL,
		name       TEXT NOT NULL,
		alias      TEXT NOT NULL DEFAULT '',
		chat_id    INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_binds_chat ON binds(chat_id);

	CREATE TABLE IF NOT EXISTS owner (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		user_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL
	);
	`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadBinds(ctx context.Context) ([]connector.BindEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT network_id, kind, name, alias, chat_id FROM binds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query binds: %w", err)
	}
	defer rows.Close()
	var entries []connector.BindEntry
	for rows.Next() {
		var e connector.BindEntry
		if err = rows.Scan(&e.NetworkID, &e.Kind, &e.Name, &e.Alias, &e.ChatID); err != nil {
			return nil, fmt.Errorf("scan bind: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PutBind(ctx context.Context, e connector.BindEntry) error {
	return putBind(ctx, s.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putBind(ctx context.Context, db execer, e connector.BindEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO binds (network_id, kind, name, alias, chat_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(network_id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			alias = excluded.alias,
			chat_id = excluded.chat_id,
			updated_at = excluded.updated_at`,
		e.NetworkID, int(e.Kind), e.Name, e.Alias, e.ChatID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put bind %s: %w", e.NetworkID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBind(ctx context.Context, networkID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM binds WHERE network_id = ?`, networkID)
	return err
}

func (s *SQLiteStore) DeleteBindsByChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM binds WHERE chat_id = ?`, chatID)
	return err
}

// ReplaceBinds swaps the whole table for entries in one transaction.
func (s *SQLiteStore) ReplaceBinds(ctx context.Context, entries []connector.BindEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err = tx.ExecContext(ctx, `DELETE FROM binds`); err != nil {
		return fmt.Errorf("clear binds: %w", err)
	}
	for _, e := range entries {
		if err = putBind(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetOwner returns the operator record. ok is false while the bot is
// unclaimed.
func (s *SQLiteStore) GetOwner(ctx context.Context) (owner Owner, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT user_id, chat_id FROM owner WHERE id = 1`).
		Scan(&owner.UserID, &owner.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, false, nil
	}
	if err != nil {
		return Owner{}, false, fmt.Errorf("get owner: %w", err)
	}
	return owner, true, nil
}

func (s *SQLiteStore) SetOwner(ctx context.Context, owner Owner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner (id, user_id, chat_id) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, chat_id = excluded.chat_id`,
		owner.UserID, owner.ChatID)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return nil
}
