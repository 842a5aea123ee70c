package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError rejects bad input before any storage I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CapacityError means the request was valid but cannot be satisfied:
// insufficient stock, or the reservation table is at its row cap.
// Available carries the current availability so callers can show
// "only N left" without a second round trip.
type CapacityError struct {
	Available int
	Reason    string
}

func (e *CapacityError) Error() string {
	return e.Reason
}

func NewCapacityError(available int, reason string) error {
	return &CapacityError{Available: available, Reason: reason}
}

// TransientError wraps network/timeout/lock-contention failures that are
// safe to retry with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient storage error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicateKey reports a MySQL unique-index violation (error 1062).
// Racing inserts past an application-level existence check land here.
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// AvailableFromError extracts the availability attached to a CapacityError.
func AvailableFromError(err error) (int, bool) {
	var ce *CapacityError
	if errors.As(err, &ce) {
		return ce.Available, true
	}
	return 0, false
}
