package types

import (
	"errors"
	"strings"
)

// FieldError describes one invalid payload field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}

// FieldErrors collects every FieldError found while validating a payload.
type FieldErrors []*FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual field errors to errors.As.
func (e FieldErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, fe := range e {
		errs[i] = fe
	}
	return errs
}

// HasField reports whether err carries a FieldError for the named field.
func HasField(err error, field string) bool {
	var fes FieldErrors
	if errors.As(err, &fes) {
		for _, fe := range fes {
			if fe.Field == field {
				return true
			}
		}
		return false
	}
	var fe *FieldError
	return errors.As(err, &fe) && fe.Field == field
}

type validator struct {
	errs FieldErrors
}

func (v *validator) add(field, reason string) {
	v.errs = append(v.errs, &FieldError{Field: field, Reason: reason})
}

func (v *validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}
