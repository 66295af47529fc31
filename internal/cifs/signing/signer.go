package signing

import (
	"crypto/hmac"
	"fmt"
	"sync"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// Signer holds the signing state of one connection. SMB1 keeps a single
// sequence space per connection, so the first session that activates signing
// fixes the key and later sessions reuse it.
type Signer struct {
	mu     sync.Mutex
	key    []byte
	seq    uint32
	active bool
}

// NewSigner returns an inactive signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Activate installs key and starts the sequence at 2: the session setup that
// produced the key consumed 0 and 1. It returns false if signing was already
// active, in which case the existing key is kept.
func (s *Signer) Activate(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.key = append([]byte(nil), key...)
	s.seq = 2
	s.active = true
	return true
}

// Active reports whether outgoing messages are being signed.
func (s *Signer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reset deactivates signing. Called when the socket is replaced.
func (s *Signer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
	s.seq = 0
	s.active = false
}

// Sign stamps msg in place and returns the sequence number reserved for its
// response. ok is false when signing is not active and msg was left alone.
// Callers must sign and write under the same lock so that sequence order
// matches wire order.
func (s *Signer) Sign(msg []byte) (respSeq uint32, ok bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0, false
	}
	key, seq := s.key, s.seq
	s.seq += 2
	s.mu.Unlock()

	SetSignatureFlag(msg)
	sig := Compute(key, msg, seq)
	copy(msg[SignatureOffset:], sig[:])
	return seq + 1, true
}

// Verify checks the signature of a received message against seq.
func (s *Signer) Verify(msg []byte, seq uint32) error {
	s.mu.Lock()
	key, active := s.key, s.active
	s.mu.Unlock()
	if !active {
		return nil
	}
	if len(msg) < header.HeaderSize {
		return fmt.Errorf("%w: message too short", types.ErrSignatureInvalid)
	}
	want := Compute(key, msg, seq)
	if !hmac.Equal(want[:], msg[SignatureOffset:SignatureOffset+SignatureSize]) {
		return fmt.Errorf("%w: sequence %d", types.ErrSignatureInvalid, seq)
	}
	return nil
}
