package domain

import "time"

// MfaSecret holds a user's TOTP shared secret and hashed backup codes.
// Enabled stays false until the first code is verified against the pending
// secret. Raw backup codes exist only in the setup response; only digests are
// stored.
type MfaSecret struct {
	UserID         string
	Secret         string // base32
	Enabled        bool
	BackupCodes    []BackupCode
	CreatedAt      time.Time
	LastVerifiedAt *time.Time
}

// BackupCode is a single-use fallback credential, stored as a one-way hash.
type BackupCode struct {
	ID        string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// RemainingBackupCodes counts codes not yet consumed.
func (m *MfaSecret) RemainingBackupCodes() int {
	n := 0
	for _, c := range m.BackupCodes {
		if !c.Used {
			n++
		}
	}
	return n
}
