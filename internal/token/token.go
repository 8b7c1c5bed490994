package token

import (
	"time"
)

// ActionKind identifies the sensitive account action a token authorizes.
type ActionKind string

const (
	KindPasswordReset     ActionKind = "password_reset"
	KindEmailVerification ActionKind = "email_verification"
)

// IsValid reports whether the kind is one of the known action kinds.
func (k ActionKind) IsValid() bool {
	switch k {
	case KindPasswordReset, KindEmailVerification:
		return true
	}
	return false
}

// ActionToken is a single-use, time-bounded credential authorizing one
// sensitive account action for a subject.
type ActionToken struct {
	ID         string     `json:"id"`
	Value      string     `json:"-"` // Never exposed in JSON
	SubjectID  int64      `json:"subject_id"`
	Kind       ActionKind `json:"kind"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Live reports whether the token is still usable at the given instant:
// not consumed and not past its expiry.
func (t *ActionToken) Live(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// TTLTable maps each action kind to the lifetime of its tokens.
type TTLTable map[ActionKind]time.Duration

// DefaultTTLTable returns the standard token lifetimes.
func DefaultTTLTable() TTLTable {
	return TTLTable{
		KindPasswordReset:     1 * time.Hour,
		KindEmailVerification: 24 * time.Hour,
	}
}

// TTL returns the lifetime for the given kind, falling back to one hour
// for kinds missing from the table.
func (t TTLTable) TTL(kind ActionKind) time.Duration {
	if ttl, ok := t[kind]; ok && ttl > 0 {
		return ttl
	}
	return 1 * time.Hour
}
