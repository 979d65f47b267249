package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wardenlabs/warden/internal/auth/domain"
)

type LockoutRepository struct {
	db DB
}

func NewLockoutRepository(db DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

func (r *LockoutRepository) Get(ctx context.Context, identifier string) (*domain.LockoutRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT identifier, failures, locked_until, consecutive_lockouts, last_lock_expired_at
		FROM lockout_records
		WHERE identifier = $1
		LIMIT 1;
	`, identifier)

	var rec domain.LockoutRecord
	err := row.Scan(&rec.Identifier, &rec.Failures, &rec.LockedUntil,
		&rec.ConsecutiveLockouts, &rec.LastLockExpiredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lockout record: %w", err)
	}
	return &rec, nil
}

// Put is a single-statement upsert, keeping the per-key update atomic.
func (r *LockoutRepository) Put(ctx context.Context, rec *domain.LockoutRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO lockout_records (identifier, failures, locked_until, consecutive_lockouts, last_lock_expired_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identifier)
		DO UPDATE SET
			failures = EXCLUDED.failures,
			locked_until = EXCLUDED.locked_until,
			consecutive_lockouts = EXCLUDED.consecutive_lockouts,
			last_lock_expired_at = EXCLUDED.last_lock_expired_at
	`, rec.Identifier, rec.Failures, rec.LockedUntil, rec.ConsecutiveLockouts, rec.LastLockExpiredAt)
	return err
}

func (r *LockoutRepository) Delete(ctx context.Context, identifier string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM lockout_records WHERE identifier = $1`, identifier)
	return err
}
