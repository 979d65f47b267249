package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wardenlabs/warden/internal/auth/domain"
)

type RefreshTokenRepository struct {
	db DB
}

func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Get(ctx context.Context, token string) (*domain.RefreshToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, token, session_id, device_fingerprint, ip_address, user_agent,
		       expires_at, created_at, revoked
		FROM refresh_tokens
		WHERE token = $1
		LIMIT 1;
	`, token)

	var rt domain.RefreshToken
	err := row.Scan(&rt.ID, &rt.UserID, &rt.Token, &rt.SessionID, &rt.DeviceFingerprint,
		&rt.IPAddress, &rt.UserAgent, &rt.ExpiresAt, &rt.CreatedAt, &rt.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &rt, nil
}

func (r *RefreshTokenRepository) Store(ctx context.Context, rt *domain.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, session_id, device_fingerprint,
		                            ip_address, user_agent, expires_at, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rt.ID, rt.UserID, rt.Token, rt.SessionID, rt.DeviceFingerprint,
		rt.IPAddress, rt.UserAgent, rt.ExpiresAt, rt.CreatedAt, rt.Revoked)
	return err
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`, id)
	return err
}

func (r *RefreshTokenRepository) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > now()
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count refresh tokens: %w", err)
	}
	return count, nil
}

func (r *RefreshTokenRepository) DeleteOldestByUserID(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE id = (
			SELECT id FROM refresh_tokens
			WHERE user_id = $1 AND revoked = FALSE
			ORDER BY created_at ASC
			LIMIT 1
		)
	`, userID)
	return err
}
