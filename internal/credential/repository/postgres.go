package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepository stores slots in the credential_slots table created by migration 000001.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a slot repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the value for slot, or ok false if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, slot string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM credential_slots WHERE slot = $1`, slot).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Put upserts value under slot.
func (r *PostgresRepository) Put(ctx context.Context, slot, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credential_slots (slot, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		slot, value)
	return err
}

// Delete removes slot if present.
func (r *PostgresRepository) Delete(ctx context.Context, slot string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credential_slots WHERE slot = $1`, slot)
	return err
}
