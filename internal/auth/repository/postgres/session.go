package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wardenlabs/warden/internal/auth/domain"
	autherror "github.com/wardenlabs/warden/internal/errors"
)

type SessionRepository struct {
	db DB
}

func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, role, created_at, last_activity, expires_at,
	last_rotated_at, rotation_count, device_fingerprint, ip_address, user_agent,
	latitude, longitude, has_geo, anomaly_score, active`

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 LIMIT 1;`, id)
	return scanSession(row)
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.Role, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt,
		&s.LastRotatedAt, &s.RotationCount, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.Latitude, &s.Longitude, &s.HasGeo, &s.AnomalyScore, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, role, created_at, last_activity, expires_at,
		                      last_rotated_at, rotation_count, device_fingerprint, ip_address,
		                      user_agent, latitude, longitude, has_geo, anomaly_score, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, s.ID, s.UserID, s.Role, s.CreatedAt, s.LastActivity, s.ExpiresAt,
		s.LastRotatedAt, s.RotationCount, s.DeviceFingerprint, s.IPAddress,
		s.UserAgent, s.Latitude, s.Longitude, s.HasGeo, s.AnomalyScore, s.Active)
	return err
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.Session) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET last_activity = $2, expires_at = $3, last_rotated_at = $4, rotation_count = $5,
		    anomaly_score = $6, active = $7
		WHERE id = $1
	`, s.ID, s.LastActivity, s.ExpiresAt, s.LastRotatedAt, s.RotationCount,
		s.AnomalyScore, s.Active)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// ReplaceID rekeys a session in a single statement, so no reader ever
// observes both identifiers live. A vanished old ID is reported as
// ErrSessionNotFound rather than swallowed, so a caller that lost a rotation
// race cannot resurrect the session under a second ID.
func (r *SessionRepository) ReplaceID(ctx context.Context, oldID, newID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET id = $2 WHERE id = $1`, oldID, newID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return autherror.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ListActiveByUserID(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND active
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
