package types

import (
	"fmt"
	"strings"
)

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	Model

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address. It is unique among active users.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`
}

// Role is an ordinal privilege level. A higher role satisfies every
// requirement of a lower one.
type Role int

// Supported roles, in ascending rank.
const (
	// RoleUser is the default role given on registration.
	RoleUser Role = iota + 1

	// RoleAdmin may manage other users.
	RoleAdmin
)

// Rank returns the ordinal used for role comparisons.
func (r Role) Rank() int {
	return int(r)
}

// Satisfies reports whether r is at least min.
func (r Role) Satisfies(min Role) bool {
	return r.Rank() >= min.Rank()
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a role name to its Role value.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
