package reliability

import (
	"errors"
	"fmt"

	"reliability-tracker/pkg/models"
)

// ErrTestNotFound is returned by a Store when no test has the requested id.
var ErrTestNotFound = errors.New("reliability test not found")

// ValidationError reports missing or malformed completion input. It is
// raised before any storage access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports a completion for a test id that does not exist.
type NotFoundError struct {
	TestID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Test ID %s not found in the database.", e.TestID)
}

func (e *NotFoundError) Unwrap() error { return ErrTestNotFound }

// TerminalError is the benign rejection returned when a test has already
// reached success or timedout. Nothing is written.
type TerminalError struct {
	TestID string
	MSISDN string
	Status models.Status
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("Test ID %s is already marked as '%s'.", e.TestID, e.Status)
}

// StorageError wraps a failure from the Store. It is never retried here.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a benign outcome (invalid input, unknown
// id or already terminal) rather than a failure of the system.
func IsRejection(err error) bool {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		terminal   *TerminalError
	)
	return errors.As(err, &validation) || errors.As(err, &notFound) || errors.As(err, &terminal)
}
