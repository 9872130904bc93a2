package models

import "time"

// Session is the client-held claim that an Identity is authenticated.
// The identity is a snapshot taken at login and is not re-fetched.
type Session struct {
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewSession(identity Identity, now time.Time, ttl time.Duration) Session {
	return Session{Identity: identity, ExpiresAt: now.Add(ttl).UTC()}
}

// ExpiredAt reports whether the session has lapsed at the given instant.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
