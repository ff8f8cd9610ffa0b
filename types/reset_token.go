package types

import "time"

// ResetToken is a single-use credential that lets its owner choose a new password.
type ResetToken struct {
	Model

	// Hash is the random lookup key sent to the user. It appears in URLs,
	// so it must be unguessable.
	Hash string `json:"-" db:"hash"`

	// ExpiresAt is the last instant at which the token can be used.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// UserID identifies the user whose password the token resets.
	UserID int `json:"user_id" db:"user_id"`
}

// ActiveAt reports whether the token can still be used at t.
func (t *ResetToken) ActiveAt(now time.Time) bool {
	return !t.IsDeleted() && !now.After(t.ExpiresAt)
}
