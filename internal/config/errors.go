package config

import (
	"errors"
	"fmt"
)

// Sentinel errors, grounded on tarsy's pkg/config/errors.go pattern:
// callers use errors.Is against these rather than matching message text.
var (
	ErrConfigNotFound   = errors.New("config: settings file not found")
	ErrInvalidYAML      = errors.New("config: settings file is not valid YAML")
	ErrValidationFailed = errors.New("config: settings failed validation")
)

// ValidationError names the exact settings-file field that failed
// validation, mirroring tarsy's ValidationError{Component, ID, Field, Err}.
type ValidationError struct {
	Component string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s.%s: %v", e.Component, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps err identifying the settings component/field
// it came from.
func NewValidationError(component, field string, err error) *ValidationError {
	return &ValidationError{Component: component, Field: field, Err: err}
}
