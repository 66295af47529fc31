package types

import (
	"errors"
	"fmt"
)

// Client error taxonomy. Every failure returned by the transport and session
// layers wraps one of these.
var (
	// ErrMalformedFrame is a structural violation in one received frame.
	ErrMalformedFrame = errors.New("cifs: malformed frame")

	// ErrConnectionLost fails every request outstanding when the socket broke.
	ErrConnectionLost = errors.New("cifs: connection lost")

	// ErrTimeout means no response arrived before the deadline.
	ErrTimeout = errors.New("cifs: request timed out")

	// ErrInterrupted means the caller's context was cancelled while waiting.
	ErrInterrupted = errors.New("cifs: request interrupted")

	// ErrSignatureInvalid means a response failed signature verification.
	ErrSignatureInvalid = errors.New("cifs: response signature invalid")

	// ErrAuthenticationFailed is terminal for a session.
	ErrAuthenticationFailed = errors.New("cifs: authentication failed")

	// ErrNegotiationFailed is terminal for a connection.
	ErrNegotiationFailed = errors.New("cifs: negotiation failed")

	// ErrBusy means no multiplex id is free, or the server reported the
	// resource as still in use.
	ErrBusy = errors.New("cifs: busy")

	// ErrSendFailed means the connection could not accept a frame.
	ErrSendFailed = errors.New("cifs: send failed")
)

// StatusError carries a non-success NT status returned by the server.
type StatusError struct {
	Command Command
	Status  Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cifs: %s failed: %s", e.Command, e.Status)
}

// Is lets callers match broad categories with errors.Is.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAuthenticationFailed:
		return e.Status.IsLogonFailure()
	case ErrBusy:
		return e.Status.IsBusy()
	}
	return false
}

// NewStatusError returns a *StatusError for a failed response, or nil when
// status is not an error.
func NewStatusError(cmd Command, status Status) error {
	if !status.IsError() {
		return nil
	}
	return &StatusError{Command: cmd, Status: status}
}
