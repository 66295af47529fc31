package transport

// State is the lifecycle state of a Conn.
type State int32

const (
	// StateNegotiating: a socket is up but the dialect has not been agreed.
	StateNegotiating State = iota
	// StateGood: negotiated and usable.
	StateGood
	// StateReconnecting: the socket was lost; the next EnsureConnected
	// redials.
	StateReconnecting
	// StateExiting: closed, or reconnection was abandoned. Terminal.
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateGood:
		return "good"
	case StateReconnecting:
		return "reconnecting"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// sendable reports whether frames may be written in this state.
func (s State) sendable() bool {
	return s == StateNegotiating || s == StateGood
}
