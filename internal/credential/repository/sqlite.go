package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS credential_slots (
	slot       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteRepository stores slots in a local SQLite file (modernc.org/sqlite driver).
type SQLiteRepository struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewSQLiteRepository ensures the credential_slots table exists and returns a repository over db.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("sqlite: create credential_slots: %w", err)
	}
	return &SQLiteRepository{db: db, nowF: time.Now}, nil
}

// Get returns the value stored for slot.
func (r *SQLiteRepository) Get(ctx context.Context, slot string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM credential_slots WHERE slot = ?`, slot).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Put upserts value under slot.
func (r *SQLiteRepository) Put(ctx context.Context, slot, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credential_slots (slot, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		slot, value, r.nowF().Unix())
	return err
}

// Delete removes slot if present.
func (r *SQLiteRepository) Delete(ctx context.Context, slot string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credential_slots WHERE slot = ?`, slot)
	return err
}
