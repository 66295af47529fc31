package types

// =============================================================================
// Header Flags
// =============================================================================

// Flags is the 8-bit header flags field.
type Flags uint8

const (
	FlagsLockAndRead   Flags = 0x01
	FlagsCaseless      Flags = 0x08
	FlagsCanonicalized Flags = 0x10
	FlagsOplock        Flags = 0x20
	FlagsOplockBatch   Flags = 0x40
	// FlagsReply marks a server response.
	FlagsReply         Flags = 0x80
)

// Flags2 is the 16-bit header flags2 field.
type Flags2 uint16

const (
	Flags2LongNames         Flags2 = 0x0001
	Flags2EAs               Flags2 = 0x0002
	Flags2SecuritySignature Flags2 = 0x0004
	Flags2SignatureRequired Flags2 = 0x0010
	Flags2IsLongName        Flags2 = 0x0040
	Flags2ExtendedSecurity  Flags2 = 0x0800
	Flags2DFS               Flags2 = 0x1000
	Flags2PagingIO          Flags2 = 0x2000
	Flags2NTStatus          Flags2 = 0x4000
	Flags2Unicode           Flags2 = 0x8000
)

// =============================================================================
// Capabilities
// =============================================================================

// Capabilities is the capability bit-set exchanged in NEGOTIATE and
// SESSION_SETUP_ANDX.
type Capabilities uint32

const (
	CapRawMode           Capabilities = 0x00000001
	CapMpxMode           Capabilities = 0x00000002
	CapUnicode           Capabilities = 0x00000004
	CapLargeFiles        Capabilities = 0x00000008
	CapNTSMBs            Capabilities = 0x00000010
	CapRPCRemoteAPIs     Capabilities = 0x00000020
	CapStatus32          Capabilities = 0x00000040
	CapLevel2Oplocks     Capabilities = 0x00000080
	CapLockAndRead       Capabilities = 0x00000100
	CapNTFind            Capabilities = 0x00000200
	CapDFS               Capabilities = 0x00001000
	CapInfoLevelPassthru Capabilities = 0x00002000
	CapLargeReadX        Capabilities = 0x00004000
	CapLargeWriteX       Capabilities = 0x00008000
	CapLWIO              Capabilities = 0x00010000
	CapUnix              Capabilities = 0x00800000
	CapCompressedData    Capabilities = 0x02000000
	CapDynamicReauth     Capabilities = 0x20000000
	CapPersistentHandles Capabilities = 0x40000000
	CapExtendedSecurity  Capabilities = 0x80000000
)

// Has reports whether every bit of want is set.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// ClientCapabilities is what this client advertises in SESSION_SETUP_ANDX,
// before masking with the server's set.
const ClientCapabilities = CapUnicode | CapLargeFiles | CapNTSMBs | CapStatus32 |
	CapLevel2Oplocks | CapNTFind | CapDFS | CapLargeReadX | CapLargeWriteX | CapUnix

// =============================================================================
// Security Mode
// =============================================================================

// SecurityMode is the server security mode byte from the negotiate response.
type SecurityMode uint8

const (
	SecurityModeUserLevel          SecurityMode = 0x01
	SecurityModeEncryptPasswords   SecurityMode = 0x02
	SecurityModeSignaturesEnabled  SecurityMode = 0x04
	SecurityModeSignaturesRequired SecurityMode = 0x08
)

// Tree connect AndX request flags and response optional-support bits.
const (
	TreeConnectDisconnectTID     uint16 = 0x0001
	TreeConnectExtendedSignature uint16 = 0x0004
	TreeConnectExtendedResponse  uint16 = 0x0008

	SupportSearchBits     uint16 = 0x0001
	SupportShareIsInDFS   uint16 = 0x0002
	SupportCSCMask        uint16 = 0x000C
	SupportUniqueFilename uint16 = 0x0010
	SupportExtendedSig    uint16 = 0x0020
)

// Session setup response Action bits.
const (
	ActionGuest uint16 = 0x0001
)
