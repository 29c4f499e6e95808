package domain

import "errors"

// ErrValidation matches every validation error via errors.Is.
var ErrValidation = errors.New("validation failed")

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == ErrValidation }

// Validation errors are returned before any state is created or mutated.
var (
	ErrUnknownSession      error = &validationError{"unknown session token"}
	ErrNoPendingQuestion   error = &validationError{"no question is pending"}
	ErrEmptyCorpus         error = &validationError{"corpus text is empty"}
	ErrQuestionSetRequired error = &validationError{"question set reference is required in fixed mode"}
	ErrUnknownQuestionSet  error = &validationError{"unknown question set"}
	ErrInvalidToken        error = &validationError{"invalid session token"}
	ErrEmptyAnswer         error = &validationError{"answer text is empty"}
	ErrStaleStep           error = &validationError{"answer refers to an older step"}
)

var (
	// ErrConflict means another caller is advancing the same session.
	ErrConflict = errors.New("session is being advanced by another caller")

	// ErrStoreUnavailable is retryable: nothing was written.
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")

	// ErrStateUnreadable marks a corrupted checkpoint. It is never repaired automatically.
	ErrStateUnreadable = errors.New("checkpoint state unreadable")

	// ErrCapability wraps failures of the external extraction capability
	// that cannot be degraded locally.
	ErrCapability = errors.New("extraction capability failed")
)
