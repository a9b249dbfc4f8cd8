package models

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// FieldError describes a single field that failed validation
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError is returned when a record is rejected at write time.
// Err holds one or more *FieldError combined with multierr.
type ValidationError struct {
	Record string
	Key    string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Record, e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Fields returns the individual field errors
func (e *ValidationError) Fields() []*FieldError {
	var fields []*FieldError
	for _, err := range multierr.Errors(e.Err) {
		var fe *FieldError
		if errors.As(err, &fe) {
			fields = append(fields, fe)
		} else {
			fields = append(fields, &FieldError{Reason: err.Error()})
		}
	}
	return fields
}

// IsValidationError reports whether err wraps a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MaxBytes is the upper bound accepted for byte counters (2^63)
const MaxBytes uint64 = 1 << 63

// validator accumulates field errors for one record
type validator struct {
	err error
}

func (v *validator) fail(field, reason string) {
	v.err = multierr.Append(v.err, &FieldError{Field: field, Reason: reason})
}

func (v *validator) required(field, value string) {
	if value == "" {
		v.fail(field, "is required")
	}
}

func (v *validator) nonNegative(field string, n int64) {
	if n < 0 {
		v.fail(field, fmt.Sprintf("must not be negative, got %d", n))
	}
}

func (v *validator) optNonNegative(field string, n *int64) {
	if n != nil {
		v.nonNegative(field, *n)
	}
}

func (v *validator) between(field string, n, lo, hi int64) {
	if n < lo || n > hi {
		v.fail(field, fmt.Sprintf("must be between %d and %d, got %d", lo, hi, n))
	}
}

func (v *validator) result(record, key string) error {
	if v.err == nil {
		return nil
	}
	return &ValidationError{Record: record, Key: key, Err: v.err}
}

// checkEnum validates an enum field. Optional enums may be empty.
func checkEnum[T ~string](v *validator, field string, value T, values []T, required bool) {
	if value == "" {
		if required {
			v.fail(field, "is required")
		}
		return
	}
	if !IsOneOf(value, values) {
		v.fail(field, fmt.Sprintf("unrecognized value %q", string(value)))
	}
}
