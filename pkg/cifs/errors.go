package cifs

import (
	"errors"

	"github.com/marmos91/cifscore/internal/cifs/types"
)

// Errors returned by the client core. Server NT statuses surface as
// *StatusError.
var (
	ErrMalformedFrame       = types.ErrMalformedFrame
	ErrConnectionLost       = types.ErrConnectionLost
	ErrTimeout              = types.ErrTimeout
	ErrInterrupted          = types.ErrInterrupted
	ErrSignatureInvalid     = types.ErrSignatureInvalid
	ErrAuthenticationFailed = types.ErrAuthenticationFailed
	ErrNegotiationFailed    = types.ErrNegotiationFailed
	ErrBusy                 = types.ErrBusy
	ErrSendFailed           = types.ErrSendFailed

	// ErrClosed is returned by Bind after Registry.Close.
	ErrClosed = errors.New("cifs: registry is closed")

	// ErrNotBound is returned when a Tree is used after its last Unbind.
	ErrNotBound = errors.New("cifs: tree is not bound")
)

type (
	StatusError = types.StatusError
	Status      = types.Status
	Command     = types.Command
	Flags2      = types.Flags2
)

// transient reports whether err is a transport failure after which the
// operation may succeed on a new socket.
func transient(err error) bool {
	return errors.Is(err, types.ErrConnectionLost) ||
		errors.Is(err, types.ErrSendFailed) ||
		errors.Is(err, types.ErrTimeout) ||
		errors.Is(err, types.ErrInterrupted) ||
		errors.Is(err, types.ErrSignatureInvalid)
}

// busy reports whether err is a server refusal that leaves nothing to undo.
func busy(err error) bool {
	if errors.Is(err, types.ErrBusy) {
		return true
	}
	var se *types.StatusError
	return errors.As(err, &se) && se.Status.IsBusy()
}
