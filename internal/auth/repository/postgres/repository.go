package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wardenlabs/warden/internal/auth/domain"
)

// DB is the subset of pgxpool.Pool the repositories use; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, password_hash, password_changed_at,
		       password_history, active, failed_attempts, locked_until, created_at, updated_at
		FROM users
		WHERE email = $1
		LIMIT 1;
	`
	return r.scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, password_hash, password_changed_at,
		       password_history, active, failed_attempts, locked_until, created_at, updated_at
		FROM users
		WHERE id = $1
		LIMIT 1;
	`
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.PasswordHash,
		&user.PasswordChangedAt, &user.PasswordHistory, &user.Active, &user.FailedAttempts,
		&user.LockedUntil, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash, password_changed_at,
		                   password_history, active, failed_attempts, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, user.ID, user.Email, user.DisplayName, user.Role, user.PasswordHash, user.PasswordChangedAt,
		user.PasswordHistory, user.Active, user.FailedAttempts, user.LockedUntil, user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET email = $2, display_name = $3, role = $4, password_hash = $5, password_changed_at = $6,
		    password_history = $7, active = $8, failed_attempts = $9, locked_until = $10, updated_at = $11
		WHERE id = $1
	`, user.ID, user.Email, user.DisplayName, user.Role, user.PasswordHash, user.PasswordChangedAt,
		user.PasswordHistory, user.Active, user.FailedAttempts, user.LockedUntil, user.UpdatedAt)
	return err
}

func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, email, display_name, role, password_hash, password_changed_at,
		       password_history, active, failed_attempts, locked_until, created_at, updated_at
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) RecordLoginAttempt(ctx context.Context, identifier, ip string, success bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO login_attempts (id, identifier, ip_address, attempt_time, successful)
		VALUES (gen_random_uuid(), $1, $2, now(), $3)
	`, identifier, ip, success)
	return err
}

// CountRecentFailedAttempts counts the current failure streak: failures after
// since, excluding anything that precedes the identifier's most recent
// successful attempt.
func (r *UserRepository) CountRecentFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE identifier = $1 AND successful = FALSE AND attempt_time > $2
		  AND attempt_time > COALESCE(
			(SELECT MAX(attempt_time) FROM login_attempts WHERE identifier = $1 AND successful),
			'-infinity')
	`, identifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (r *UserRepository) UpsertTrustedDevice(ctx context.Context, userID, fingerprint, userAgent, ip string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO trusted_devices (
			id, user_id, device_fingerprint, user_agent, ip_address, last_seen, created_at
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, now(), now()
		)
		ON CONFLICT (user_id, device_fingerprint)
		DO UPDATE SET
			last_seen = now(),
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent
	`, userID, fingerprint, userAgent, ip)
	return err
}
