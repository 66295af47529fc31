package header

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// AppendFrame appends the framed encoding of m (prefix included) to dst.
func AppendFrame(dst []byte, m *Message) ([]byte, error) {
	if len(m.Params)%2 != 0 {
		return dst, fmt.Errorf("%w: parameter section has odd length %d", types.ErrMalformedFrame, len(m.Params))
	}
	if len(m.Params)/2 > 0xFF {
		return dst, fmt.Errorf("%w: %d parameter words exceed 255", types.ErrMalformedFrame, len(m.Params)/2)
	}
	if len(m.Data) > 0xFFFF {
		return dst, fmt.Errorf("%w: data section of %d bytes exceeds 65535", types.ErrMalformedFrame, len(m.Data))
	}
	size := minMessageSize + len(m.Params) + 2 + len(m.Data)
	if size > MaxFrameSize {
		return dst, fmt.Errorf("%w: message of %d bytes exceeds frame limit", types.ErrMalformedFrame, size)
	}

	w := smbenc.AppendWriter(dst)
	w.WriteUint32BE(uint32(size))
	w.WriteBytes(ProtocolID[:])
	w.WriteUint8(uint8(m.Command))
	w.WriteUint32(uint32(m.Status))
	w.WriteUint8(uint8(m.Flags))
	w.WriteUint16(uint16(m.Flags2))
	w.WriteUint16(m.PIDHigh)
	w.WriteBytes(m.Signature[:])
	w.WriteZeros(2)
	w.WriteUint16(m.TID)
	w.WriteUint16(m.PIDLow)
	w.WriteUint16(m.UID)
	w.WriteUint16(m.MID)
	w.WriteUint8(uint8(len(m.Params) / 2))
	w.WriteBytes(m.Params)
	w.WriteUint16(uint16(len(m.Data)))
	w.WriteBytes(m.Data)
	if err := w.Err(); err != nil {
		return dst, fmt.Errorf("%w: %v", types.ErrMalformedFrame, err)
	}
	return w.Bytes(), nil
}

// Encode returns the framed encoding of m.
func Encode(m *Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, PrefixSize+minMessageSize+len(m.Params)+2+len(m.Data)), m)
}

// Decode parses one message (without the session prefix). The frame is
// copied, so the caller may reuse its buffer. maxSize <= 0 disables the
// size check.
func Decode(frame []byte, maxSize int) (*Message, error) {
	if maxSize > 0 && len(frame) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", types.ErrMalformedFrame, len(frame), maxSize)
	}
	if len(frame) < minMessageSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", types.ErrMalformedFrame, len(frame))
	}
	if !bytes.Equal(frame[:4], ProtocolID[:]) {
		return nil, fmt.Errorf("%w: bad protocol id % X", types.ErrMalformedFrame, frame[:4])
	}

	raw := bytes.Clone(frame)
	r := smbenc.NewReader(raw)
	r.Skip(4)

	m := &Message{Raw: raw}
	m.Command = types.Command(r.ReadUint8())
	m.Status = types.Status(r.ReadUint32())
	m.Flags = types.Flags(r.ReadUint8())
	m.Flags2 = types.Flags2(r.ReadUint16())
	m.PIDHigh = r.ReadUint16()
	copy(m.Signature[:], r.ReadSlice(SignatureSize))
	r.Skip(2)
	m.TID = r.ReadUint16()
	m.PIDLow = r.ReadUint16()
	m.UID = r.ReadUint16()
	m.MID = r.ReadUint16()

	wct := int(r.ReadUint8())
	m.Params = r.ReadSlice(2 * wct)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: word count %d: %v", types.ErrMalformedFrame, wct, err)
	}

	// Error responses from some servers stop after a zero word count.
	if wct == 0 && r.Remaining() == 0 && m.Status.IsError() {
		return m, nil
	}

	bcc := int(r.ReadUint16())
	m.Data = r.ReadSlice(bcc)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: byte count %d: %v", types.ErrMalformedFrame, bcc, err)
	}
	if r.Remaining() > MaxSlack {
		return nil, fmt.Errorf("%w: %d trailing bytes after data section", types.ErrMalformedFrame, r.Remaining())
	}
	return m, nil
}

// PeekMID returns the multiplex id of a message whose fixed header is intact,
// even if the rest of the message is malformed.
func PeekMID(frame []byte) (uint16, bool) {
	if len(frame) < HeaderSize || !bytes.Equal(frame[:4], ProtocolID[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(frame[30:32]), true
}

// PeekCommand returns the command code of a message with an intact header.
func PeekCommand(frame []byte) (types.Command, bool) {
	if len(frame) < HeaderSize || !bytes.Equal(frame[:4], ProtocolID[:]) {
		return 0, false
	}
	return types.Command(frame[4]), true
}
