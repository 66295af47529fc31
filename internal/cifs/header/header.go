package header

import (
	"github.com/marmos91/cifscore/internal/cifs/types"
)

const (
	// PrefixSize is the length of the session packet prefix.
	PrefixSize = 4

	// HeaderSize is the fixed SMB1 header length.
	HeaderSize = 32

	// SignatureOffset is the offset of the security signature in the header.
	SignatureOffset = 14

	// SignatureSize is the length of the security signature.
	SignatureSize = 8

	// MaxFrameSize is the largest message the 24-bit length field can carry.
	MaxFrameSize = 0x00FFFFFF

	// MaxSlack is the number of trailing bytes tolerated after the declared
	// data section. Some servers pad responses.
	MaxSlack = 512

	// minMessageSize is the header plus the WordCount byte.
	minMessageSize = HeaderSize + 1
)

// ProtocolID is the SMB1 protocol signature, 0xFF 'S' 'M' 'B'.
var ProtocolID = [4]byte{0xFF, 'S', 'M', 'B'}

// Header is the fixed 32-byte SMB1 header.
type Header struct {
	Command   types.Command
	Status    types.Status
	Flags     types.Flags
	Flags2    types.Flags2
	PIDHigh   uint16
	Signature [SignatureSize]byte
	TID       uint16
	PIDLow    uint16
	UID       uint16
	MID       uint16
}

// PID returns the 32-bit process id split across PIDHigh and PIDLow.
func (h *Header) PID() uint32 {
	return uint32(h.PIDHigh)<<16 | uint32(h.PIDLow)
}

// SetPID stores a 32-bit process id.
func (h *Header) SetPID(pid uint32) {
	h.PIDHigh = uint16(pid >> 16)
	h.PIDLow = uint16(pid)
}

// IsReply reports whether the server reply flag is set.
func (h *Header) IsReply() bool {
	return h.Flags&types.FlagsReply != 0
}

// Unicode reports whether strings in the message are UTF-16LE.
func (h *Header) Unicode() bool {
	return h.Flags2&types.Flags2Unicode != 0
}

// Message is one decoded SMB1 message.
type Message struct {
	Header

	// Params is the parameter section (2 * WordCount bytes).
	Params []byte

	// Data is the data section (ByteCount bytes).
	Data []byte

	// Raw is the complete message without the session prefix. Set by Decode
	// and used for signature verification. Params and Data alias it.
	Raw []byte
}

// WordCount returns the number of parameter words.
func (m *Message) WordCount() int {
	return len(m.Params) / 2
}

// DataOffset returns the offset of the data section from the start of the
// header. Unicode string alignment in the data section is relative to it.
func (m *Message) DataOffset() int {
	return HeaderSize + 1 + len(m.Params) + 2
}

// DataOffsetFor returns the data section offset for a message carrying
// wordCount parameter words.
func DataOffsetFor(wordCount int) int {
	return HeaderSize + 1 + 2*wordCount + 2
}
