package poll

import (
	"errors"
	"fmt"
)

// Sentinel errors for the terminal states a caller can hit. The HTTP and
// websocket boundaries translate these into status codes and events; they
// never leak as raw internals.
var (
	ErrNotFound     = errors.New("poll not found")
	ErrPollClosed   = errors.New("poll is no longer active")
	ErrAlreadyVoted = errors.New("you have already submitted your responses")

	// ErrStoreUnavailable wraps a failed persistence call. Writes are not
	// blindly retried: a repeated submit would double-count participants.
	ErrStoreUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed create/update input: title, question or
// option shape violations.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AuthError reports an adminToken or master password mismatch.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

func validationErrf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
