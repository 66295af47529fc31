package smbenc

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	oem     = charmap.CodePage437
)

// EncodeUTF16 converts s to UTF-16LE without a terminator.
func EncodeUTF16(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("smbenc: encode utf16: %w", err)
	}
	return b, nil
}

// DecodeUTF16 converts UTF-16LE bytes to a Go string. An odd trailing byte is
// dropped.
func DecodeUTF16(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// EncodeOEM converts s to code page 437. Characters with no mapping become '?'.
func EncodeOEM(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, c := range s {
		e, ok := oem.EncodeRune(c)
		if !ok {
			e = '?'
		}
		b = append(b, e)
	}
	return b
}

// DecodeOEM converts code page 437 bytes to a Go string.
func DecodeOEM(b []byte) string {
	s, err := oem.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// WriteString appends s null terminated, as UTF-16LE (aligned) when unicode is
// set and as OEM otherwise.
func (w *Writer) WriteString(s string, unicode bool) {
	if w.err != nil {
		return
	}
	if !unicode {
		w.WriteBytes(EncodeOEM(s))
		w.WriteUint8(0)
		return
	}
	b, err := EncodeUTF16(s)
	if err != nil {
		w.setErr(err)
		return
	}
	w.Align2()
	w.WriteBytes(b)
	w.WriteUint16(0)
}

// ReadString reads a null-terminated string. A string that runs to the end of
// the buffer without a terminator is returned as is.
func (r *Reader) ReadString(unicode bool) string {
	if r.err != nil {
		return ""
	}
	if !unicode {
		rest := r.data[r.pos:]
		n := bytes.IndexByte(rest, 0)
		if n < 0 {
			r.pos = len(r.data)
			return DecodeOEM(rest)
		}
		r.pos += n + 1
		return DecodeOEM(rest[:n])
	}

	r.Align2()
	rest := r.data[r.pos:]
	for i := 0; i+1 < len(rest); i += 2 {
		if rest[i] == 0 && rest[i+1] == 0 {
			r.pos += i + 2
			return DecodeUTF16(rest[:i])
		}
	}
	r.pos = len(r.data)
	return DecodeUTF16(rest)
}
