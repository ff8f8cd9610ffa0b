package types

import "time"

// Model holds the identity and audit columns shared by every persisted entity.
type Model struct {
	// ID is the generated identifier. Zero means the entity has not been stored yet.
	ID int `json:"id" db:"id"`

	// CreatedAt is the timestamp when the entity was first stored.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent save.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// DeletedAt is set when the entity has been soft-deleted.
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Base returns the shared columns so generic code can reach them.
func (m *Model) Base() *Model {
	return m
}

// IsDeleted reports whether the entity has been soft-deleted.
func (m *Model) IsDeleted() bool {
	return m.DeletedAt != nil
}
