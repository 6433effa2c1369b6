package models

import "time"

type User struct {
	ID                     int64
	Email                  string
	PassHash               []byte
	FirstName              string
	LastName               string
	EmailVerified          bool
	EmailVerificationToken *string
	PasswordResetToken     *string
	PasswordResetExpires   *time.Time
	LoginAttempts          int
	LockedUntil            *time.Time
	LastLogin              *time.Time
	MarketingConsent       bool
	CreatedAt              time.Time
}

// IsLocked reports whether the lockout window is still open. The lock is
// a time-gated predicate, not a stored state flip: once lockedUntil passes
// the account is open again without any explicit unlock.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type Session struct {
	ID           string
	UserID       int64
	SessionToken string
	RefreshToken string
	IPAddress    string
	UserAgent    string
	IsActive     bool
	ExpiresAt    time.Time
	LastActivity time.Time
	CreatedAt    time.Time
}

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type DeviceInfo struct {
	IP        string
	UserAgent string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Message is what gets published for the mailer: a destination, a link
// carrying the one-time token, and the purpose for subject selection.
type Message struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Purpose string `json:"purpose"`
}

const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)
