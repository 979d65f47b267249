package domain

import "time"

// Session is a server-side session record. The ID is a high-entropy random
// token handed to the client in an HTTP-only cookie; RotationCount increments
// every time the ID is replaced while the record itself survives.
type Session struct {
	ID                string
	UserID            string
	Role              string
	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         time.Time
	LastRotatedAt     time.Time
	RotationCount     int
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	Latitude          float64
	Longitude         float64
	HasGeo            bool
	AnomalyScore      int
	Active            bool
}

// Expired reports whether the absolute lifetime has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Idle reports whether the idle timeout has elapsed since the last validated
// request.
func (s *Session) Idle(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivity) > idleTimeout
}
