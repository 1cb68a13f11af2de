package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error detected while processing a row event.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Seq is the logical seq of the failing event, 0 if not yet stamped.
	Seq int64

	// Table is the table of the failing event.
	Table string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeHandlerFailed indicates the handler rejected an event.
	ErrCodeHandlerFailed RuntimeErrorCode = "HANDLER_FAILED"

	// ErrCodeJournalFailed indicates the journal append failed.
	ErrCodeJournalFailed RuntimeErrorCode = "JOURNAL_FAILED"

	// ErrCodeInvalidEvent indicates a malformed row event.
	ErrCodeInvalidEvent RuntimeErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Seq != 0 {
		msg = fmt.Sprintf("%s (seq=%d, table=%s)", msg, e.Seq, e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsJournalError reports whether err is a journal append failure.
func IsJournalError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeJournalFailed
}

// IsInvalidEvent reports whether err is a malformed-event failure.
func IsInvalidEvent(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeInvalidEvent
}
