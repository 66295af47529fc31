package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/signing"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// Authentication method names accepted in Credentials.Method.
const (
	MethodAuto    = "auto"
	MethodLANMAN  = "lanman"
	MethodNTLM    = "ntlm"
	MethodNTLMv2  = "ntlmv2"
	MethodNTLMSSP = "ntlmssp"
)

// AuthMethod runs one SESSION_SETUP_ANDX exchange for a Session.
type AuthMethod interface {
	// Name returns the method name used in logs and configuration.
	Name() string

	// Authenticate performs the exchange and returns the server's final
	// reply.
	Authenticate(ctx context.Context, s *Session) (*SetupReply, error)
}

// SelectAuthMethod resolves a method name against the negotiated server
// capabilities. auto picks ntlmssp when the server offers extended security
// and ntlmv2 otherwise.
func SelectAuthMethod(name string, neg *NegotiateResult) (AuthMethod, error) {
	switch strings.ToLower(name) {
	case "", MethodAuto:
		if neg.ExtendedSecurity() {
			return ntlmsspAuth{}, nil
		}
		return ntlmv2Auth{}, nil
	case MethodLANMAN:
		return legacyOnly(lanmanAuth{}, neg)
	case MethodNTLM:
		return legacyOnly(ntlmAuth{}, neg)
	case MethodNTLMv2:
		return legacyOnly(ntlmv2Auth{}, neg)
	case MethodNTLMSSP:
		if !neg.ExtendedSecurity() {
			return nil, fmt.Errorf("%w: server does not support extended security", types.ErrAuthenticationFailed)
		}
		return ntlmsspAuth{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown method %q", types.ErrAuthenticationFailed, name)
	}
}

func legacyOnly(m AuthMethod, neg *NegotiateResult) (AuthMethod, error) {
	if neg.ExtendedSecurity() {
		return nil, fmt.Errorf("%w: %s requires a server without extended security", types.ErrAuthenticationFailed, m.Name())
	}
	return m, nil
}

// =============================================================================
// Legacy challenge/response methods
// =============================================================================

// legacyResponses carries the password fields of a non-extended setup.
type legacyResponses struct {
	lm, nt []byte
	macKey []byte
}

type lanmanAuth struct{}

func (lanmanAuth) Name() string { return MethodLANMAN }

func (lanmanAuth) Authenticate(ctx context.Context, s *Session) (*SetupReply, error) {
	if s.creds.Anonymous() {
		return s.legacySetup(ctx, legacyResponses{})
	}
	ch := s.neg.Challenge
	ntHash := ntlm.NTHash(s.creds.Password)
	lm := ntlm.LMResponse(s.creds.Password, ch)
	nt := ntlm.NTLMResponse(ntHash, ch)
	key := ntlm.SessionBaseKeyV1(ntHash)
	return s.legacySetup(ctx, legacyResponses{
		lm:     lm[:],
		nt:     nt[:],
		macKey: signing.MACKey(key[:], nt[:]),
	})
}

type ntlmAuth struct{}

func (ntlmAuth) Name() string { return MethodNTLM }

func (ntlmAuth) Authenticate(ctx context.Context, s *Session) (*SetupReply, error) {
	if s.creds.Anonymous() {
		return s.legacySetup(ctx, legacyResponses{})
	}
	ntHash := ntlm.NTHash(s.creds.Password)
	nt := ntlm.NTLMResponse(ntHash, s.neg.Challenge)
	key := ntlm.SessionBaseKeyV1(ntHash)
	return s.legacySetup(ctx, legacyResponses{
		lm:     nt[:],
		nt:     nt[:],
		macKey: signing.MACKey(key[:], nt[:]),
	})
}

type ntlmv2Auth struct{}

func (ntlmv2Auth) Name() string { return MethodNTLMv2 }

func (ntlmv2Auth) Authenticate(ctx context.Context, s *Session) (*SetupReply, error) {
	if s.creds.Anonymous() {
		return s.legacySetup(ctx, legacyResponses{})
	}
	domain := s.domain()
	v2 := ntlm.NTLMv2Hash(ntlm.NTHash(s.creds.Password), s.creds.Username, domain)

	challenges := make([]byte, 16)
	if _, err := io.ReadFull(s.random(), challenges); err != nil {
		return nil, fmt.Errorf("session setup: read random: %w", err)
	}
	lm := ntlm.LMv2Response(v2, s.neg.Challenge, challenges[:8])

	targetInfo := ntlm.BuildTargetInfo(domain, s.neg.ServerName, 0)
	blob := ntlm.NTLMv2Blob(ntlm.FileTime(s.cfg.Now()), challenges[8:], targetInfo)
	nt, key := ntlm.NTLMv2Response(v2, s.neg.Challenge, blob)

	return s.legacySetup(ctx, legacyResponses{
		lm:     lm,
		nt:     nt,
		macKey: signing.MACKey(key[:], nt),
	})
}

// =============================================================================
// Extended security
// =============================================================================

type ntlmsspAuth struct{}

func (ntlmsspAuth) Name() string { return MethodNTLMSSP }

func (ntlmsspAuth) Authenticate(ctx context.Context, s *Session) (*SetupReply, error) {
	return s.extendedSetup(ctx, s.mechanism())
}

func (s *Session) random() io.Reader {
	if s.cfg.Rand != nil {
		return s.cfg.Rand
	}
	return rand.Reader
}
