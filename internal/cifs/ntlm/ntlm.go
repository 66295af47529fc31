// Package ntlm implements the client side of NTLM authentication for SMB1:
// the password hashes and challenge responses used by non-extended session
// setup (LANMAN, NTLM, NTLMv2) and the NTLMSSP message exchange carried in
// SPNEGO blobs by extended-security session setup.
//
// The server-side helpers (BuildChallenge, ParseAuthenticate, VerifyNTLMv2)
// back the loopback test server.
//
// Reference: [MS-NLMP]
package ntlm

import (
	"bytes"
	"encoding/binary"
)

// =============================================================================
// NTLM Message Types
// =============================================================================

// MessageType identifies the three messages in the NTLM handshake.
// [MS-NLMP] Section 2.2.1
type MessageType uint32

const (
	Negotiate    MessageType = 1
	Challenge    MessageType = 2
	Authenticate MessageType = 3
)

// =============================================================================
// NTLM Message Structure Constants
// =============================================================================

// Signature is the 8-byte prefix of every NTLMSSP message.
var Signature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

const (
	messageTypeOffset = 8
	headerSize        = 12
)

// CHALLENGE message offsets. [MS-NLMP] Section 2.2.1.2
const (
	challengeTargetNameOffset = 12
	challengeFlagsOffset      = 20
	challengeServerChalOffset = 24
	challengeTargetInfoOffset = 40
	challengeBaseSize         = 48
	challengeVersionSize      = 8
)

// AUTHENTICATE message layout. [MS-NLMP] Section 2.2.1.3
const (
	authLmResponseOffset     = 12
	authNtResponseOffset     = 20
	authDomainNameOffset     = 28
	authUserNameOffset       = 36
	authWorkstationOffset    = 44
	authSessionKeyOffset     = 52
	authNegotiateFlagsOffset = 60
	authBaseSize             = 64
)

// negotiateBaseSize is the NEGOTIATE message without the optional version.
const negotiateBaseSize = 32

// =============================================================================
// NTLM Negotiate Flags
// =============================================================================

// NegotiateFlag controls authentication behavior and capabilities.
// [MS-NLMP] Section 2.2.2.5
type NegotiateFlag uint32

const (
	FlagUnicode             NegotiateFlag = 0x00000001
	FlagOEM                 NegotiateFlag = 0x00000002
	FlagRequestTarget       NegotiateFlag = 0x00000004
	FlagSign                NegotiateFlag = 0x00000010
	FlagSeal                NegotiateFlag = 0x00000020
	FlagLMKey               NegotiateFlag = 0x00000080
	FlagNTLM                NegotiateFlag = 0x00000200
	FlagAnonymous           NegotiateFlag = 0x00000800
	FlagDomainSupplied      NegotiateFlag = 0x00001000
	FlagWorkstationSupplied NegotiateFlag = 0x00002000
	FlagAlwaysSign          NegotiateFlag = 0x00008000
	FlagTargetTypeDomain    NegotiateFlag = 0x00010000
	FlagTargetTypeServer    NegotiateFlag = 0x00020000

	// FlagExtendedSecurity selects NTLM2 session security (NTLMv1 only).
	FlagExtendedSecurity NegotiateFlag = 0x00080000

	FlagTargetInfo NegotiateFlag = 0x00800000
	FlagVersion    NegotiateFlag = 0x02000000
	Flag128        NegotiateFlag = 0x20000000

	// FlagKeyExchange asks the client to send an RC4-encrypted random
	// session key in the AUTHENTICATE message.
	FlagKeyExchange NegotiateFlag = 0x40000000

	Flag56 NegotiateFlag = 0x80000000
)

// DefaultClientFlags is what the client offers in its NEGOTIATE message.
const DefaultClientFlags = FlagUnicode | FlagOEM | FlagRequestTarget | FlagSign |
	FlagNTLM | FlagAlwaysSign | FlagExtendedSecurity | FlagTargetInfo |
	Flag128 | FlagKeyExchange | Flag56

// =============================================================================
// AV_PAIR Constants (TargetInfo Structure)
// =============================================================================

// AvID identifies an AV_PAIR in TargetInfo. [MS-NLMP] Section 2.2.2.1
type AvID uint16

const (
	AvEOL             AvID = 0x0000
	AvNbComputerName  AvID = 0x0001
	AvNbDomainName    AvID = 0x0002
	AvDNSComputerName AvID = 0x0003
	AvDNSDomainName   AvID = 0x0004
	AvFlags           AvID = 0x0006
	AvTimestamp       AvID = 0x0007
)

// =============================================================================
// NTLM Message Detection
// =============================================================================

// IsValid checks if the buffer starts with the NTLMSSP signature.
func IsValid(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	return bytes.Equal(buf[:8], Signature)
}

// GetMessageType returns the NTLM message type, or 0 for short buffers.
func GetMessageType(buf []byte) MessageType {
	if len(buf) < headerSize {
		return 0
	}
	return MessageType(binary.LittleEndian.Uint32(buf[messageTypeOffset:]))
}

// =============================================================================
// NTLM Errors
// =============================================================================

// Error is a constant NTLM error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMessageTooShort   Error = "ntlm: message too short"
	ErrInvalidSignature  Error = "ntlm: invalid signature"
	ErrWrongMessageType  Error = "ntlm: wrong message type"
	ErrFieldOutOfRange   Error = "ntlm: field out of range"
	ErrResponseTooShort  Error = "ntlm: response too short"
	ErrResponseMismatch  Error = "ntlm: response does not match"
	ErrNoChallenge       Error = "ntlm: authenticate called before challenge"
	ErrUnsupportedOption Error = "ntlm: unsupported response variant"
)
