package storage

import (
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStorageUnavailable: the file/directory cannot be created or opened,
	// or the busy-retry budget was exhausted. Fatal to the calling operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound: a lookup by key found no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey: a uniqueness violation on insert.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidState: a state transition was requested for a row that does
	// not exist (MarkExecuted on a missing date).
	ErrInvalidState = errors.New("invalid state")
)

// NotFoundError carries the table and key of a failed lookup.
type NotFoundError struct {
	Table string
	Key   string

	// transition is set when the lookup was part of a state change.
	transition bool
}

func (e *NotFoundError) Error() string {
	if e.transition {
		return fmt.Sprintf("%s: no row for %q to update", e.Table, e.Key)
	}
	return fmt.Sprintf("%s: %q not found", e.Table, e.Key)
}

func (e *NotFoundError) Unwrap() []error {
	if e.transition {
		return []error{ErrNotFound, ErrInvalidState}
	}
	return []error{ErrNotFound}
}

// DuplicateKeyError reports which key collided.
type DuplicateKeyError struct {
	Table string
	Key   string
	Err   error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %q already exists", e.Table, e.Key)
}

func (e *DuplicateKeyError) Unwrap() []error { return []error{ErrDuplicateKey, e.Err} }

// BusyError is returned when an operation stayed locked for every attempt.
type BusyError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: database busy after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *BusyError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsFatal reports whether err should stop a long-running caller.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrInvalidState)
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// isBusy reports SQLITE_BUSY / SQLITE_LOCKED (primary or extended codes).
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isConstraint reports a primary key or unique violation. CHECK and NOT
// NULL failures are not duplicates.
func isConstraint(err error) bool {
	if code, ok := sqliteCode(err); ok {
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// primary code only: fall back to the message
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
