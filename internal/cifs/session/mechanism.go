package session

import (
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"

	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/spnego"
)

// SecurityMechanism produces the GSS mechanism tokens carried inside SPNEGO
// during extended-security session setup.
type SecurityMechanism interface {
	// OID identifies the mechanism in the SPNEGO mechanism list.
	OID() asn1.ObjectIdentifier

	// InitToken returns the first token sent to the server.
	InitToken() ([]byte, error)

	// Next consumes a server token and returns the reply.
	Next(serverToken []byte) ([]byte, error)

	// SessionKey returns the exported session key once the exchange has
	// produced one, or nil.
	SessionKey() []byte
}

// MechanismFactory creates a fresh mechanism for each setup attempt.
type MechanismFactory func(creds Credentials, cfg Config) SecurityMechanism

// NewNTLMSSP returns the built-in NTLMSSP mechanism.
func NewNTLMSSP(creds Credentials, cfg Config) SecurityMechanism {
	return &ntlmsspMechanism{
		client: &ntlm.Client{
			User:        creds.Username,
			Password:    creds.Password,
			Domain:      creds.Domain,
			Workstation: cfg.Workstation,
			Variant:     creds.Variant,
			Rand:        cfg.Rand,
			Now:         cfg.Now,
		},
	}
}

type ntlmsspMechanism struct {
	client *ntlm.Client
	step   int
}

func (m *ntlmsspMechanism) OID() asn1.ObjectIdentifier { return spnego.OIDNTLMSSP }

func (m *ntlmsspMechanism) InitToken() ([]byte, error) {
	if m.step != 0 {
		return nil, fmt.Errorf("ntlmssp: init token requested twice")
	}
	m.step++
	return m.client.Negotiate(), nil
}

func (m *ntlmsspMechanism) Next(serverToken []byte) ([]byte, error) {
	if m.step != 1 {
		return nil, fmt.Errorf("ntlmssp: unexpected round %d", m.step+1)
	}
	m.step++
	return m.client.Authenticate(serverToken)
}

func (m *ntlmsspMechanism) SessionKey() []byte {
	if m.step < 2 {
		return nil
	}
	return m.client.SessionKey()
}
