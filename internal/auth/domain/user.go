package domain

import "time"

type User struct {
	ID                string
	Email             string
	DisplayName       string
	Role              string
	PasswordHash      string
	PasswordChangedAt time.Time
	PasswordHistory   []string
	Active            bool
	FailedAttempts    int
	LockedUntil       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Locked reports whether the account-level lock is still in force at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type RefreshToken struct {
	ID                string
	UserID            string
	Token             string
	SessionID         string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	Revoked           bool
}

type LoginAttempt struct {
	ID          string
	Identifier  string
	IPAddress   string
	AttemptTime time.Time
	Successful  bool
}

type TrustedDevice struct {
	ID          string
	UserID      string
	Fingerprint string
	UserAgent   string
	IPAddress   string
	LastSeen    time.Time
	CreatedAt   time.Time
}
