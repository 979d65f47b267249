package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wardenlabs/warden/internal/auth/domain"
)

type MfaRepository struct {
	db DB
}

func NewMfaRepository(db DB) *MfaRepository {
	return &MfaRepository{db: db}
}

func (r *MfaRepository) Get(ctx context.Context, userID string) (*domain.MfaSecret, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, secret, enabled, backup_codes, created_at, last_verified_at
		FROM mfa_secrets
		WHERE user_id = $1
		LIMIT 1;
	`, userID)

	var s domain.MfaSecret
	err := row.Scan(&s.UserID, &s.Secret, &s.Enabled, &s.BackupCodes, &s.CreatedAt, &s.LastVerifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mfa secret: %w", err)
	}
	return &s, nil
}

// Put upserts the whole record; backup codes travel as one JSONB document so
// consuming a code is a per-key atomic update.
func (r *MfaRepository) Put(ctx context.Context, secret *domain.MfaSecret) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO mfa_secrets (user_id, secret, enabled, backup_codes, created_at, last_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id)
		DO UPDATE SET
			secret = EXCLUDED.secret,
			enabled = EXCLUDED.enabled,
			backup_codes = EXCLUDED.backup_codes,
			last_verified_at = EXCLUDED.last_verified_at
	`, secret.UserID, secret.Secret, secret.Enabled, secret.BackupCodes, secret.CreatedAt, secret.LastVerifiedAt)
	return err
}

func (r *MfaRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID)
	return err
}
