package smbenc

import (
	"encoding/binary"
	"fmt"
)

// Writer appends little-endian SMB wire data to a growing buffer.
type Writer struct {
	buf  []byte
	base int
	err  error
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// NewWriterAt creates a Writer whose first byte will land at offset base from
// the start of the SMB header. The base only affects Align2.
func NewWriterAt(capacity, base int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity), base: base}
}

// AppendWriter creates a Writer that appends to buf, reusing its capacity.
func AppendWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// WriteUint16 appends a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteUint32 appends a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteUint32BE appends a big-endian uint32, as used by the NetBIOS
// session prefix.
func (w *Writer) WriteUint32BE(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteUint64 appends a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, data...)
}

// WriteZeros appends n zero bytes.
func (w *Writer) WriteZeros(n int) {
	if w.err != nil || n <= 0 {
		return
	}
	w.buf = append(w.buf, make([]byte, n)...)
}

// Align2 appends a zero byte when the absolute position is odd.
func (w *Writer) Align2() {
	if w.err != nil {
		return
	}
	if (w.base+len(w.buf))%2 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// PatchUint16 overwrites a uint16 previously reserved at offset. Used for
// length fields that are only known once the data section is complete.
func (w *Writer) PatchUint16(offset int, v uint16) {
	if w.err != nil {
		return
	}
	if offset < 0 || offset+2 > len(w.buf) {
		w.err = fmt.Errorf("smbenc: PatchUint16 out of bounds: offset %d, len %d", offset, len(w.buf))
		return
	}
	binary.LittleEndian.PutUint16(w.buf[offset:], v)
}

// Bytes returns the accumulated bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current buffer length.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first error encountered, or nil.
func (w *Writer) Err() error {
	return w.err
}

// setErr records err unless an earlier error is already held.
func (w *Writer) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}
