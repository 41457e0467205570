package record

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline, store and HTTP layers.
var (
	ErrNotFound          = errors.New("session not found")
	ErrNotReady          = errors.New("result not ready")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrQueueFull         = errors.New("processing queue is full")
	ErrUploadUnavailable = errors.New("original upload is no longer available")
	// ErrForbidden is answered as ErrNotFound at the HTTP boundary.
	ErrForbidden         = errors.New("session belongs to another user")
)

// UploadValidationError rejects a submission before any session exists.
type UploadValidationError struct {
	Reason string
	// TooLarge distinguishes size-limit violations so HTTP can answer 413.
	TooLarge bool
}

func (e *UploadValidationError) Error() string {
	return "invalid upload: " + e.Reason
}

// StageProcessingError is a failure inside one processing stage. It is
// terminal for the session and carries the human-readable message stored in
// the status.
type StageProcessingError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageProcessingError) Unwrap() error { return e.Err }
