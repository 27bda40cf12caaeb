package wizard

import (
	"errors"
	"fmt"
)

var (
	ErrNotStarted       = errors.New("wizard: not started")
	ErrClosed           = errors.New("wizard: closed")
	ErrSubmitting       = errors.New("wizard: submission in progress")
	ErrFinalized        = errors.New("wizard: onboarding already submitted")
	ErrAtFirstStep      = errors.New("wizard: already at the first step")
	ErrNavigationDenied = errors.New("wizard: navigation not allowed")
	ErrValidation       = errors.New("wizard: step data failed validation")
	ErrNotFinalizable   = errors.New("wizard: final step not completed")
)

// SubmissionError reports a failed finalization call. The wizard stays on the final step with its
// form data intact so the caller can retry.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("wizard: submission failed: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// SaveError reports a failed incremental form-data save. Navigation is not affected.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return fmt.Sprintf("wizard: progress save failed: %v", e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }
