package core

import "fmt"

// ValidationError reports malformed or missing caller input. It is recovered
// locally and surfaced as a field-level message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced entity that does not exist. It aborts
// the surrounding transaction.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

// StateConflictError reports an operation rejected by entity state: editing a
// paid or void invoice, deleting a warehouse with stock, or touching a
// component that belongs to a different invoice.
type StateConflictError struct {
	Message string
}

func (e *StateConflictError) Error() string {
	return e.Message
}

// SequenceExhaustedError reports that code generation gave up after its retry
// budget. Callers should treat it as a fatal transactional failure.
type SequenceExhaustedError struct {
	Prefix   string
	Attempts int
}

func (e *SequenceExhaustedError) Error() string {
	return fmt.Sprintf("failed to generate unique code for prefix %s after %d attempts", e.Prefix, e.Attempts)
}
