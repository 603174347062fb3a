package store

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteConfig is matched by errors.Is when a new object is
	// missing a required field.
	ErrIncompleteConfig = errors.New("store: incomplete configuration")

	// ErrInvalidConfig is matched by errors.Is when a field of a new object
	// fails its format check.
	ErrInvalidConfig = errors.New("store: invalid configuration")
)

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeIncomplete indicates a required field is absent.
	ErrCodeIncomplete ConfigErrorCode = "INCOMPLETE_CONFIG"

	// ErrCodeInvalid indicates a present field is malformed.
	ErrCodeInvalid ConfigErrorCode = "INVALID_CONFIG"
)

// ConfigError reports why Create discarded an object.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Field names the offending field, when known.
	Field string

	// Err is the validator's error.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is matches the ErrIncompleteConfig and ErrInvalidConfig sentinels.
func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrIncompleteConfig:
		return e.Code == ErrCodeIncomplete
	case ErrInvalidConfig:
		return e.Code == ErrCodeInvalid
	}
	return false
}

// FieldError is returned by validators to name the field at fault.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Missing reports an absent required field.
func Missing(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// Malformed reports a present field failing a format check.
func Malformed(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// IsIncomplete returns true if err is an incomplete configuration error.
// Uses errors.As to handle wrapped errors.
func IsIncomplete(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeIncomplete
	}
	return false
}

// IsInvalid returns true if err is an invalid configuration error.
func IsInvalid(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeInvalid
	}
	return false
}

func newConfigError(code ConfigErrorCode, err error) *ConfigError {
	ce := &ConfigError{Code: code, Err: err}
	var fe *FieldError
	if errors.As(err, &fe) {
		ce.Field = fe.Field
	}
	return ce
}
