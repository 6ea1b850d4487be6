package session

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/transport"
)

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrNoOutstandingOffer = errors.New("answer without an outstanding offer")
	ErrUnexpectedSignal   = errors.New("unexpected signal")
	ErrMediaUnavailable   = errors.New("local media unavailable")
	ErrSignalingError     = errors.New("signaling server error")
	ErrPeerLeft           = errors.New("peer left the room")
	ErrConnectionFailed   = errors.New("peer connection failed")
	ErrTransportClosed    = transport.ErrClosed
)

// Error describes a failed session operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
