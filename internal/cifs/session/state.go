package session

// Status is the usability of a Session.
type Status int

const (
	StatusNegotiating Status = iota
	StatusGood
	StatusExiting
)

func (s Status) String() string {
	switch s {
	case StatusNegotiating:
		return "negotiating"
	case StatusGood:
		return "good"
	case StatusExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// AuthState tracks the session setup state machine:
//
//	Unauthenticated -> Negotiated -> Authenticating -> Established | Failed
//
// Failed is terminal.
type AuthState int

const (
	AuthUnauthenticated AuthState = iota
	AuthNegotiated
	AuthAuthenticating
	AuthEstablished
	AuthFailed
)

func (a AuthState) String() string {
	switch a {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthNegotiated:
		return "negotiated"
	case AuthAuthenticating:
		return "authenticating"
	case AuthEstablished:
		return "established"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}
