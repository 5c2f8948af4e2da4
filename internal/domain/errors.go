package domain

import (
	"errors"
	"strings"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductAlreadyExists = errors.New("product with this id already exists")
	ErrStoreUnavailable     = errors.New("product store unavailable")
	ErrDataIntegrity        = errors.New("product store integrity violation")
	ErrUnknownCategory      = errors.New("unknown category")
)

// FieldError describes one invalid or missing input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when client input fails validation. It is
// always client-correctable.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return "invalid product: " + strings.Join(names, ", ")
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
