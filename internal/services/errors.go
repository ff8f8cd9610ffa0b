package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stockroom/apiserver/internal/storage"
	"github.com/stockroom/apiserver/internal/store"
)

var (
	// ErrUnauthorized covers bad credentials, invalid bearer tokens and
	// tokens whose subject no longer exists. It never says which.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller is authenticated but lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned by direct lookups that found nothing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a save collides with a unique field.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken is returned by the token codec for bad signatures,
	// malformed tokens and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// FieldError describes why one input field was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of an input payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a failed field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// translate maps store errors onto the service error values so callers
// above this package never see persistence details.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrAlreadyExists
	default:
		return err
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, translate(err))
}
