package smbenc

import (
	"errors"
	"testing"
)

func TestReaderIntegers(t *testing.T) {
	data := []byte{
		0x7F,
		0x01, 0x02,
		0x01, 0x02, 0x03, 0x04,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}
	r := NewReader(data)
	if v := r.ReadUint8(); v != 0x7F {
		t.Errorf("ReadUint8 = 0x%02X, want 0x7F", v)
	}
	if v := r.ReadUint16(); v != 0x0201 {
		t.Errorf("ReadUint16 = 0x%04X, want 0x0201", v)
	}
	if v := r.ReadUint32(); v != 0x04030201 {
		t.Errorf("ReadUint32 = 0x%08X, want 0x04030201", v)
	}
	if v := r.ReadUint64(); v != 0x0807060504030201 {
		t.Errorf("ReadUint64 = 0x%016X, want 0x0807060504030201", v)
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
	if r.Remaining() != 0 {
		t.Errorf("expected remaining 0, got %d", r.Remaining())
	}
}

func TestReaderShortReadIsSticky(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.ReadUint16()
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", r.Err())
	}
	// Subsequent reads are no-ops even when enough data would exist.
	if v := r.ReadUint8(); v != 0 {
		t.Errorf("expected 0 after error, got %d", v)
	}
	if r.Position() != 0 {
		t.Errorf("position moved after error: %d", r.Position())
	}
}

func TestReaderReadBytesCopies(t *testing.T) {
	data := []byte{1, 2, 3}
	r := NewReader(data)
	b := r.ReadBytes(2)
	b[0] = 9
	if data[0] != 1 {
		t.Error("ReadBytes must not alias the source buffer")
	}

	r = NewReader(data)
	s := r.ReadSlice(2)
	s[0] = 9
	if data[0] != 9 {
		t.Error("ReadSlice must alias the source buffer")
	}
}

func TestReaderNegativeLength(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if b := r.ReadBytes(-1); b != nil {
		t.Errorf("expected nil, got %v", b)
	}
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", r.Err())
	}
}

func TestReaderExpect(t *testing.T) {
	r := NewReader([]byte{0x11, 0x22, 0x33})
	r.ExpectUint8(0x11)
	r.ExpectUint16(0x3322)
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}

	r = NewReader([]byte{0x00, 0x01})
	r.ExpectUint16(0xFFFF)
	if !errors.Is(r.Err(), ErrExpectMismatch) {
		t.Errorf("expected ErrExpectMismatch, got %v", r.Err())
	}
}

func TestReaderAlign2UsesBase(t *testing.T) {
	// Base 1: the first byte is at an odd absolute offset.
	r := NewReaderAt([]byte{0xAA, 0x41, 0x00, 0x00, 0x00}, 1)
	r.Align2()
	if r.Position() != 1 {
		t.Fatalf("expected pad byte skipped, position %d", r.Position())
	}
	if s := r.ReadString(true); s != "A" {
		t.Errorf("ReadString = %q, want %q", s, "A")
	}

	r = NewReaderAt([]byte{0x41, 0x00}, 2)
	r.Align2()
	if r.Position() != 0 {
		t.Errorf("aligned reader must not skip, position %d", r.Position())
	}
}

func TestReaderRest(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	r.Skip(1)
	rest := r.Rest()
	if len(rest) != 3 || rest[0] != 2 {
		t.Errorf("unexpected rest %v", rest)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected remaining 0, got %d", r.Remaining())
	}
}
