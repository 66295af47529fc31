// Package signing implements SMB1 message signing.
//
// The MAC of a message is the first 8 bytes of
//
//	MD5(MACKey || message with the signature field set to seq, 0)
//
// where seq is a 32-bit little-endian sequence number followed by four zero
// bytes. The client numbers each request N and expects its response to carry
// N+1, so the counter advances by two per request.
//
// The MAC key is the 16-byte session key followed by the NT challenge
// response sent in the session setup that activated signing (LANMAN, NTLM,
// NTLMv2), or the 16-byte exported session key alone for NTLMSSP.
//
// Reference: [MS-CIFS] 3.1.4.1.1, [MS-SMB] 3.1.4.1.1
package signing

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

const (
	// SignatureOffset is the position of the signature in the SMB1 header.
	SignatureOffset = header.SignatureOffset

	// SignatureSize is the size of the signature field.
	SignatureSize = header.SignatureSize

	// flags2Offset is the position of Flags2 in the SMB1 header.
	flags2Offset = 10
)

// Config holds the client's signing policy.
type Config struct {
	// Enabled indicates the client is willing to sign.
	Enabled bool
	// Required indicates the client refuses unsigned sessions.
	Required bool
}

// DefaultConfig returns the default policy: enabled, not required.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Negotiate combines the client policy with the server security mode.
// Signing is used when either side requires it and both sides support it.
// An irreconcilable combination fails with types.ErrNegotiationFailed.
func (c Config) Negotiate(mode types.SecurityMode) (bool, error) {
	serverRequired := mode&types.SecurityModeSignaturesRequired != 0
	serverEnabled := serverRequired || mode&types.SecurityModeSignaturesEnabled != 0

	if serverRequired && !c.Enabled {
		return false, fmt.Errorf("%w: server requires signing but it is disabled", types.ErrNegotiationFailed)
	}
	if c.Required && !serverEnabled {
		return false, fmt.Errorf("%w: signing required but server does not support it", types.ErrNegotiationFailed)
	}
	return (c.Required || serverRequired) && c.Enabled && serverEnabled, nil
}

// MACKey builds the signing key from a session key and, for the non-NTLMSSP
// methods, the NT challenge response.
func MACKey(sessionKey, ntResponse []byte) []byte {
	key := make([]byte, 0, len(sessionKey)+len(ntResponse))
	key = append(key, sessionKey...)
	return append(key, ntResponse...)
}

// Compute returns the MAC of msg (without the session prefix) for sequence
// number seq. msg is not modified.
func Compute(key, msg []byte, seq uint32) [SignatureSize]byte {
	var sig [SignatureSize]byte
	if len(msg) < header.HeaderSize {
		return sig
	}
	var seqField [SignatureSize]byte
	binary.LittleEndian.PutUint32(seqField[:], seq)

	h := md5.New()
	h.Write(key)
	h.Write(msg[:SignatureOffset])
	h.Write(seqField[:])
	h.Write(msg[SignatureOffset+SignatureSize:])
	copy(sig[:], h.Sum(nil))
	return sig
}

// SetSignatureFlag sets FLAGS2_SMB_SECURITY_SIGNATURE in an encoded message.
func SetSignatureFlag(msg []byte) {
	f := binary.LittleEndian.Uint16(msg[flags2Offset:])
	binary.LittleEndian.PutUint16(msg[flags2Offset:], f|uint16(types.Flags2SecuritySignature))
}
