package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Error classes surfaced to callers. Transient failures are retry-safe
// without changing the payload; integrity violations are not.
var (
	// ErrUnavailable marks storage unreachable or a transaction aborted
	// for reasons unrelated to the data.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrIntegrity marks a storage-level constraint violation other than
	// the expected identity conflict (which is resolved as an update and
	// never surfaces).
	ErrIntegrity = errors.New("storage integrity violation")
)

// classify maps a raw database error onto the store error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "constraint"),
		strings.Contains(msg, "duplicate key"):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
