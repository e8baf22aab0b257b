package orm

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DatabaseError wraps database-level failures from GORM.
type DatabaseError struct {
	Inner error
}

func (e *DatabaseError) Error() string {
	return "database operation failed: " + e.Inner.Error()
}

func (e *DatabaseError) Unwrap() error {
	return e.Inner
}

// NotFoundError reports a lookup that matched no row.
type NotFoundError struct {
	Search string
}

func (e *NotFoundError) Error() string {
	return "record not found for: " + e.Search
}

// ConflictError reports a uniqueness violation or a lost optimistic-version
// race.
type ConflictError struct {
	Conflict string
}

func (e *ConflictError) Error() string {
	return "conflict for: " + e.Conflict
}

// BadInputError reports store calls with missing or malformed parameters.
type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return "bad input: " + e.Reason
}

// wrapErrorWithDetails converts the relevant GORM sentinels into the typed
// taxonomy, keeping the operation and its identifying details in the
// message.
func wrapErrorWithDetails(err error, operation, details string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Search: fmt.Sprintf("%s (%s)", operation, details)}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConflictError{Conflict: fmt.Sprintf("%s (%s)", operation, details)}
	}

	return &DatabaseError{Inner: fmt.Errorf("%s: %w", operation, err)}
}
