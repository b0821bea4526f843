package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Field keys under which validation errors are collected. The caller
// surfaces these to the user grouped by field, so the keys are part of
// the external error contract.
const (
	FieldAki         = "aki"
	FieldCreatinine  = "creatinine"
	FieldUrate       = "urate"
	FieldStage       = "stage"
	FieldDialysis    = "dialysis"
	FieldValue       = "value"
	FieldGender      = "gender"
	FieldDateOfBirth = "dateofbirth"
)

// ValidationErrors collects user-facing, field-scoped validation
// messages. Errors are accumulated rather than raised one at a time so
// a caller can display every problem at once; Err converts the
// collected structure into a single error for transport.
type ValidationErrors map[string][]string

// NewValidationErrors returns an empty collector.
func NewValidationErrors() ValidationErrors {
	return make(ValidationErrors)
}

// Add appends a message under the given field key.
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

// Merge folds another collector's messages into this one.
func (v ValidationErrors) Merge(other ValidationErrors) {
	for field, msgs := range other {
		v[field] = append(v[field], msgs...)
	}
}

// HasErrors reports whether any message has been collected.
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Fields returns the field keys with collected messages, sorted.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Err is the raise-if-any gate: it returns nil when nothing was
// collected, otherwise a *ValidationError wrapping the full map.
func (v ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return &ValidationError{Errors: v}
}

// ValidationError is the transport form of a non-empty ValidationErrors
// map. It is recoverable: the caller shows the messages and asks the
// user to correct the input.
type ValidationError struct {
	Errors ValidationErrors
}

// Error implements the error interface with a deterministic summary.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed:")
	for _, field := range e.Errors.Fields() {
		for _, msg := range e.Errors[field] {
			fmt.Fprintf(&b, " [%s] %s", field, msg)
		}
	}
	return b.String()
}

// ConfigurationError signals that the caller built the evaluation
// context incorrectly (for example a prophylaxis evaluation without a
// gout history). It is a programmer error: raised immediately, never
// collected alongside validation errors.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// NewConfigurationError creates a fatal configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// OrderError is a domain invariant violation raised when a series that
// must be chronologically ordered newest-first is not. It identifies
// the offending element so the caller can locate the bad record.
type OrderError struct {
	Index   int
	Message string
}

func (e *OrderError) Error() string {
	return e.Message
}

// NewOrderError creates an order violation for the reading at index.
func NewOrderError(index int, format string, args ...any) *OrderError {
	return &OrderError{Index: index, Message: fmt.Sprintf(format, args...)}
}
