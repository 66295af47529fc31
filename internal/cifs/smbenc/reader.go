package smbenc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned when there are insufficient bytes to complete a read.
var ErrShortRead = errors.New("smbenc: short read")

// ErrExpectMismatch is returned when an Expect call finds a different value.
var ErrExpectMismatch = errors.New("smbenc: expect mismatch")

// Reader is a fail-closed cursor over little-endian SMB wire data. Once an
// error occurs every subsequent read is a no-op returning a zero value.
type Reader struct {
	data []byte
	pos  int
	base int
	err  error
}

// NewReader creates a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderAt creates a Reader whose first byte sits at offset base from the
// start of the SMB header. The base only affects Align2.
func NewReaderAt(data []byte, base int) *Reader {
	return &Reader{data: data, base: base}
}

func (r *Reader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() uint8 {
	if !r.require(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	if !r.require(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	if !r.require(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.require(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

// ReadSlice returns the next n bytes without copying. The result aliases the
// underlying buffer.
func (r *Reader) ReadSlice(n int) []byte {
	if !r.require(n) {
		return nil
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) {
	if !r.require(n) {
		return
	}
	r.pos += n
}

// Align2 skips one pad byte when the absolute position is odd. Running out of
// data while aligning is not an error: trailing strings are often truncated.
func (r *Reader) Align2() {
	if r.err != nil {
		return
	}
	if (r.base+r.pos)%2 != 0 && r.pos < len(r.data) {
		r.pos++
	}
}

// ExpectUint8 reads a byte and records ErrExpectMismatch if it differs.
func (r *Reader) ExpectUint8(expected uint8) {
	v := r.ReadUint8()
	if r.err == nil && v != expected {
		r.err = fmt.Errorf("%w: expected 0x%02X, got 0x%02X at offset %d", ErrExpectMismatch, expected, v, r.pos-1)
	}
}

// ExpectUint16 reads a uint16 and records ErrExpectMismatch if it differs.
func (r *Reader) ExpectUint16(expected uint16) {
	v := r.ReadUint16()
	if r.err == nil && v != expected {
		r.err = fmt.Errorf("%w: expected 0x%04X, got 0x%04X at offset %d", ErrExpectMismatch, expected, v, r.pos-2)
	}
}

// EnsureRemaining records an error if fewer than n bytes remain.
func (r *Reader) EnsureRemaining(n int) {
	r.require(n)
}

// Rest returns the unread bytes without copying and moves to the end.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

// Position returns the current read position relative to the start of data.
func (r *Reader) Position() int {
	return r.pos
}
