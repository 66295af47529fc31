package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/cifscore/internal/cifs/types"
)

// Session packet types carried in the first prefix byte.
const (
	PacketSessionMessage   byte = 0x00
	PacketSessionKeepAlive byte = 0x85
)

var (
	// ErrUnexpectedPacket is returned for session packet types other than a
	// session message or keep-alive. The stream cannot be resynchronised.
	ErrUnexpectedPacket = errors.New("unexpected session packet type")

	// ErrFrameTooLarge is returned when a prefix announces a message larger
	// than the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// ParsePrefix splits a session prefix into its packet type and length.
func ParsePrefix(p [PrefixSize]byte) (byte, int) {
	return p[0], int(binary.BigEndian.Uint32(p[:]) & MaxFrameSize)
}

// ReadFrame reads the next session message from r, discarding keep-alives.
// alloc supplies a buffer of exactly n bytes. The returned slice is the
// message without its prefix.
//
// A message larger than maxSize is drained from the stream without being
// buffered. In that case ReadFrame returns only its fixed header together
// with an error wrapping ErrFrameTooLarge and types.ErrMalformedFrame, so the
// caller can fail the matching request and keep reading. Any other error
// leaves the stream unusable.
func ReadFrame(r io.Reader, maxSize int, alloc func(n int) []byte) ([]byte, error) {
	var prefix [PrefixSize]byte
	for {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return nil, err
		}
		typ, n := ParsePrefix(prefix)
		switch typ {
		case PacketSessionMessage:
		case PacketSessionKeepAlive:
			if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, fmt.Errorf("%w: 0x%02X", ErrUnexpectedPacket, typ)
		}

		if maxSize > 0 && n > maxSize {
			return drainOversized(r, n, maxSize)
		}

		buf := alloc(n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

func drainOversized(r io.Reader, n, maxSize int) ([]byte, error) {
	head := make([]byte, min(n, HeaderSize))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, r, int64(n-len(head))); err != nil {
		return nil, err
	}
	return head, fmt.Errorf("%w: %w: %d bytes (max %d)", types.ErrMalformedFrame, ErrFrameTooLarge, n, maxSize)
}
