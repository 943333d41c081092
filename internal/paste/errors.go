package paste

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no paste exists for an id.
	ErrNotFound = errors.New("paste not found")
	// ErrExpired is returned when a temporary paste outlived its retention
	// window. It matches ErrNotFound under errors.Is.
	ErrExpired = fmt.Errorf("paste expired: %w", ErrNotFound)
)

// ValidationError reports unacceptable input to Create.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
