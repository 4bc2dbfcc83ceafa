package run

import "fmt"

// ValidationError reports a data-model invariant violation in an inbound
// report. Index is the position of the offending report within its batch,
// or -1 when the report was validated on its own.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Index: -1, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("report %d: %s %s", e.Index, e.Field, e.Reason)
	}

	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
