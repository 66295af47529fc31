// Package spnego wraps and unwraps security mechanism tokens in SPNEGO
// (RFC 4178) for extended-security session setup. It is a thin layer over
// github.com/jcmturner/gokrb5/v8/spnego.
//
// The client sends a GSS-API wrapped NegTokenInit carrying the first
// mechanism token, then NegTokenResp tokens for every following round.
// The server answers each round with a NegTokenResp whose negState tells the
// client whether another round is expected.
package spnego

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// Well-known mechanism OIDs.
var (
	// OIDMSKerberosV5 is Microsoft's Kerberos 5 OID (1.2.840.48018.1.2.2).
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}

	// OIDKerberosV5 is the standard Kerberos 5 OID (1.2.840.113554.1.2.2).
	OIDKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

	// OIDNTLMSSP is the NTLM Security Support Provider OID.
	OIDNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}

	// OIDSPNEGO is the SPNEGO mechanism OID (1.3.6.1.5.5.2).
	OIDSPNEGO = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
)

// NegState represents the state of SPNEGO negotiation. [RFC 4178] 4.2.2
type NegState int

const (
	NegStateAcceptCompleted  NegState = 0
	NegStateAcceptIncomplete NegState = 1
	NegStateReject           NegState = 2
	NegStateRequestMIC       NegState = 3
)

// Error types for SPNEGO parsing.
var (
	ErrInvalidToken    = errors.New("spnego: invalid token format")
	ErrUnsupportedMech = errors.New("spnego: unsupported mechanism")
	ErrRejected        = errors.New("spnego: negotiation rejected")
)

// TokenType indicates whether a token is an init or response token.
type TokenType int

const (
	TokenTypeInit TokenType = iota
	TokenTypeResp
)

// ParsedToken contains the result of parsing a SPNEGO token.
type ParsedToken struct {
	Type TokenType

	// MechTypes lists the mechanisms offered (init tokens only).
	MechTypes []asn1.ObjectIdentifier

	// MechToken is the inner mechanism token.
	MechToken []byte

	// NegState is the negotiation state (response tokens only).
	NegState NegState

	// SupportedMech is the selected mechanism (response tokens only).
	SupportedMech asn1.ObjectIdentifier
}

// Parse parses a GSS-API wrapped NegTokenInit or a raw NegTokenResp.
func Parse(data []byte) (*ParsedToken, error) {
	if len(data) < 2 {
		return nil, ErrInvalidToken
	}

	var tok spnego.SPNEGOToken
	if err := tok.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if tok.Init {
		return &ParsedToken{
			Type:      TokenTypeInit,
			MechTypes: tok.NegTokenInit.MechTypes,
			MechToken: tok.NegTokenInit.MechTokenBytes,
		}, nil
	}
	return &ParsedToken{
		Type:          TokenTypeResp,
		MechToken:     tok.NegTokenResp.ResponseToken,
		NegState:      NegState(tok.NegTokenResp.NegState),
		SupportedMech: tok.NegTokenResp.SupportedMech,
	}, nil
}

// HasMechanism checks if the parsed init token offers a specific mechanism.
func (p *ParsedToken) HasMechanism(oid asn1.ObjectIdentifier) bool {
	for _, mech := range p.MechTypes {
		if mech.Equal(oid) {
			return true
		}
	}
	return false
}

// HasKerberos returns true if the token offers Kerberos authentication.
func (p *ParsedToken) HasKerberos() bool {
	return p.HasMechanism(OIDKerberosV5) || p.HasMechanism(OIDMSKerberosV5)
}

// BuildInit creates a GSS-API wrapped NegTokenInit offering mechs, with an
// optional first mechanism token. Servers also use it as the negotiate
// response security blob.
func BuildInit(mechs []asn1.ObjectIdentifier, mechToken []byte) ([]byte, error) {
	tok := spnego.SPNEGOToken{
		Init: true,
		NegTokenInit: spnego.NegTokenInit{
			MechTypes:      mechs,
			MechTokenBytes: mechToken,
		},
	}
	b, err := tok.Marshal()
	if err != nil {
		return nil, fmt.Errorf("spnego: marshal init: %w", err)
	}
	return b, nil
}

// BuildResponse creates a NegTokenResp.
func BuildResponse(state NegState, mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	resp := spnego.NegTokenResp{
		NegState:      asn1.Enumerated(state),
		SupportedMech: mech,
		ResponseToken: responseToken,
	}
	return resp.Marshal()
}

// BuildClientResponse creates the NegTokenResp a client sends after the
// first round. It carries only the mechanism token.
func BuildClientResponse(responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptCompleted, nil, responseToken)
}

// BuildAcceptIncomplete creates a NegTokenResp asking for another round.
func BuildAcceptIncomplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptIncomplete, mech, responseToken)
}

// BuildAcceptComplete creates a NegTokenResp signalling success.
func BuildAcceptComplete(mech asn1.ObjectIdentifier, responseToken []byte) ([]byte, error) {
	return BuildResponse(NegStateAcceptCompleted, mech, responseToken)
}

// BuildReject creates a NegTokenResp signalling failure.
func BuildReject() ([]byte, error) {
	return BuildResponse(NegStateReject, nil, nil)
}
