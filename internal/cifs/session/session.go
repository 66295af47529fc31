package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
)

// Session is one authenticated principal on a Conn. The Conn is not owned.
type Session struct {
	conn  *transport.Conn
	cfg   Config
	creds Credentials

	// Mechanism overrides the NTLMSSP mechanism for extended security.
	Mechanism MechanismFactory

	mu            sync.Mutex
	neg           *NegotiateResult
	status        Status
	authState     AuthState
	method        string
	uid           uint16
	guest         bool
	nativeOS      string
	nativeLanMan  string
	primaryDomain string
}

// New creates an unauthenticated Session on conn for creds. neg is the
// result of Negotiate on the same conn.
func New(conn *transport.Conn, neg *NegotiateResult, creds Credentials, cfg Config) *Session {
	cfg.applyDefaults()
	s := &Session{
		conn:   conn,
		cfg:    cfg,
		creds:  creds,
		neg:    neg,
		status: StatusNegotiating,
	}
	if neg != nil {
		s.authState = AuthNegotiated
	}
	return s
}

// Conn returns the connection the session runs on.
func (s *Session) Conn() *transport.Conn { return s.conn }

// Credentials returns the credentials the session authenticates with.
func (s *Session) Credentials() Credentials { return s.creds }

// Negotiated returns the negotiate result the session was set up against.
func (s *Session) Negotiated() *NegotiateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neg
}

// UID returns the server-assigned user id, or 0 before setup.
func (s *Session) UID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) AuthState() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authState
}

// Guest reports whether the server logged the session on as guest.
func (s *Session) Guest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guest
}

// Info returns the informational strings from the final setup reply.
func (s *Session) Info() (nativeOS, nativeLanMan, primaryDomain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeOS, s.nativeLanMan, s.primaryDomain
}

// Method returns the name of the AuthMethod that established the session.
func (s *Session) Method() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// Invalidate marks the session unusable after its connection was lost. The
// UID is cleared; Rebind and Setup re-establish it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusExiting {
		return
	}
	s.status = StatusNegotiating
	s.uid = 0
	if s.authState != AuthFailed {
		s.authState = AuthUnauthenticated
	}
}

// Rebind attaches the result of a fresh negotiation after a reconnect.
func (s *Session) Rebind(neg *NegotiateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.neg = neg
	if s.authState != AuthFailed {
		s.authState = AuthNegotiated
	}
}

// Setup authenticates the session. It is a no-op once established and
// fails immediately after a previous authentication failure.
func (s *Session) Setup(ctx context.Context) error {
	s.mu.Lock()
	switch s.authState {
	case AuthEstablished:
		s.mu.Unlock()
		return nil
	case AuthFailed:
		s.mu.Unlock()
		return fmt.Errorf("%w: session for %s failed earlier", types.ErrAuthenticationFailed, s.creds.Key())
	case AuthUnauthenticated:
		s.mu.Unlock()
		return fmt.Errorf("%w: session setup before negotiate", types.ErrNegotiationFailed)
	case AuthAuthenticating:
		s.mu.Unlock()
		return fmt.Errorf("%w: session setup already in progress", types.ErrBusy)
	}
	s.authState = AuthAuthenticating
	neg := s.neg
	s.mu.Unlock()

	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanSessionSetup,
		telemetry.ServerAddr(s.conn.Addr()),
		telemetry.Username(s.creds.Username),
		telemetry.Domain(s.creds.Domain),
	)
	defer span.End()

	reply, method, err := s.authenticate(ctx, neg)
	if err != nil {
		s.mu.Lock()
		if errors.Is(err, types.ErrAuthenticationFailed) {
			s.authState = AuthFailed
		} else {
			s.authState = AuthNegotiated
		}
		s.mu.Unlock()

		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "session setup failed",
			logger.KeyServer, s.conn.Addr(),
			logger.KeyUsername, s.creds.Username,
			logger.KeyError, err)
		return err
	}

	guest := reply.Action&types.ActionGuest != 0
	signed := false
	if neg.Signing && !guest && len(reply.MACKey) > 0 {
		signed = s.conn.Signer().Activate(reply.MACKey)
	}

	s.mu.Lock()
	s.uid = reply.UID
	s.guest = guest
	s.method = method
	s.nativeOS = reply.NativeOS
	s.nativeLanMan = reply.NativeLanMan
	s.primaryDomain = reply.PrimaryDomain
	s.authState = AuthEstablished
	s.status = StatusGood
	s.mu.Unlock()

	span.SetAttributes(telemetry.SMBUID(reply.UID), telemetry.AuthMethod(method))
	logger.DebugCtx(ctx, "session established",
		logger.KeyServer, s.conn.Addr(),
		logger.KeyUsername, s.creds.Username,
		logger.KeyAuth, method,
		logger.KeyUID, reply.UID,
		"guest", guest,
		"signing_activated", signed)
	return nil
}

func (s *Session) authenticate(ctx context.Context, neg *NegotiateResult) (*SetupReply, string, error) {
	if neg.SecurityMode&types.SecurityModeEncryptPasswords == 0 {
		return nil, "", fmt.Errorf("%w: server requires plaintext passwords", types.ErrAuthenticationFailed)
	}
	method, err := SelectAuthMethod(s.creds.Method, neg)
	if err != nil {
		return nil, "", err
	}
	reply, err := method.Authenticate(ctx, s)
	if err != nil {
		return nil, method.Name(), err
	}
	return reply, method.Name(), nil
}

func (s *Session) mechanism() SecurityMechanism {
	if s.Mechanism != nil {
		return s.Mechanism(s.creds, s.cfg)
	}
	return NewNTLMSSP(s.creds, s.cfg)
}

// domain returns the domain used for NTLMv2, falling back to the server's.
func (s *Session) domain() string {
	if s.creds.Domain != "" {
		return s.creds.Domain
	}
	return s.neg.DomainName
}

// request builds a request header for this session.
func (s *Session) request(cmd types.Command, tid uint16, params, data []byte) *transport.Request {
	s.mu.Lock()
	uid, neg := s.uid, s.neg
	s.mu.Unlock()
	return &transport.Request{
		Command: cmd,
		Flags:   types.FlagsCaseless,
		Flags2:  neg.Flags2(),
		TID:     tid,
		UID:     uid,
		PID:     s.cfg.PID,
		Params:  params,
		Data:    data,
	}
}

// NewRequest builds a request for tree tid carrying the session's UID and
// negotiated header flags. extra is OR-ed into Flags2.
func (s *Session) NewRequest(cmd types.Command, tid uint16, extra types.Flags2, params, data []byte) *transport.Request {
	req := s.request(cmd, tid, params, data)
	req.Flags2 |= extra
	return req
}
