package engine

import (
	"errors"
	"fmt"
)

// MustContinueMessage is the end-turn rejection the server sends while a capture
// chain is still open. It is matched verbatim.
const MustContinueMessage = "Must resolve capture chain"

var ErrInvalidMatchID = errors.New("match id must be positive")

// FetchError is a transport failure or a non-2xx answer from the remote engine.
// Message is what the server reported, or a generic fallback for the operation.
type FetchError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string { return e.Message }

func (e *FetchError) Unwrap() error { return e.Err }

// Detail is a log-friendly rendering including the operation and status.
func (e *FetchError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Message, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

// IsMustContinue reports whether err is the server refusing to end a turn because
// the same seat has to keep capturing.
func IsMustContinue(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Message == MustContinueMessage
}
