package api

import (
	"errors"
	"fmt"
)

// Failure classes. Use errors.Is to classify an error returned by any component.
var (
	// ErrValidation means the draft or selection cannot be saved. No collaborator was called.
	ErrValidation = errors.New("validation failed")
	// ErrExtraction means the extraction collaborator was unreachable, rejected
	// the request or sent an unusable reply.
	ErrExtraction = errors.New("extraction failed")
	// ErrRepository means the storage collaborator was unreachable or rejected the call.
	ErrRepository = errors.New("repository failure")
	// ErrIdentity means there is no usable identity.
	ErrIdentity = errors.New("identity unavailable")

	// ErrBusy is returned when another extract, save or delete is in flight.
	ErrBusy = errors.New("operation already in progress")
	// ErrCanceled is returned when the user declined a confirmation.
	ErrCanceled = errors.New("canceled")
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("record not found")
)

// ValidationError describes why a draft was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExtractionError is returned when the extraction collaborator fails.
// StatusCode is 0 when no HTTP response was received or the reply was unusable.
type ExtractionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ExtractionError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("extraction failed (status %d): %s", e.StatusCode, msg)
	}
	return "extraction failed: " + msg
}

// Is makes ExtractionError match ErrExtraction.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
