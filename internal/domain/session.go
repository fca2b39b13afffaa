package domain

import "time"

// Session is a live authentication grant for one subject.
type Session struct {
	Subject SubjectID
	Email   string

	AccessToken  string
	RefreshToken string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the grant is past its expiry at now.
// A zero ExpiresAt means the identity service did not say; such sessions never expire locally.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the grant expires within d of now.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(d).Before(s.ExpiresAt)
}
