package ntlm

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Variant selects the NT response computed in the AUTHENTICATE message.
type Variant string

const (
	// VariantNTLMv2 sends an NTLMv2 response bound to user, domain and the
	// server's TargetInfo.
	VariantNTLMv2 Variant = "ntlmv2"

	// VariantNTLM2 sends the NTLMv1 response with NTLM2 session security,
	// which keys DES with the full hash but only uses the first 8 bytes of
	// MD5(serverChallenge || clientChallenge) as the challenge.
	VariantNTLM2 Variant = "ntlm2"
)

// Client runs the initiator side of an NTLMSSP exchange. A Client is used for
// one authentication and is not safe for concurrent use.
type Client struct {
	User        string
	Password    string
	Domain      string
	Workstation string
	Variant     Variant

	// Rand supplies client challenges and exported session keys.
	// Defaults to crypto/rand.
	Rand io.Reader

	// Now supplies the blob timestamp when the server sends none.
	Now func() time.Time

	sessionKey []byte
}

// Negotiate returns the NEGOTIATE message.
func (c *Client) Negotiate() []byte {
	return BuildNegotiate(DefaultClientFlags)
}

// Authenticate consumes the server CHALLENGE and returns the AUTHENTICATE
// message.
func (c *Client) Authenticate(challengeMsg []byte) ([]byte, error) {
	ch, err := ParseChallenge(challengeMsg)
	if err != nil {
		return nil, err
	}

	flags := ch.Flags & DefaultClientFlags
	if flags&FlagUnicode != 0 {
		flags &^= FlagOEM
	}
	msg := &AuthenticateMessage{
		Domain:      c.Domain,
		Username:    c.User,
		Workstation: c.Workstation,
	}

	if c.User == "" && c.Password == "" {
		msg.NegotiateFlags = (flags | FlagAnonymous) &^ FlagKeyExchange
		msg.LmChallengeResponse = []byte{0}
		c.sessionKey = nil
		return msg.Marshal(), nil
	}

	clientChal, err := c.random(8)
	if err != nil {
		return nil, err
	}
	ntHash := NTHash(c.Password)

	var keyExchangeKey [16]byte
	switch c.variant() {
	case VariantNTLMv2:
		v2 := NTLMv2Hash(ntHash, c.User, c.Domain)
		ts, serverTime := ch.Timestamp()
		if !serverTime {
			ts = FileTime(c.now())
		}
		blob := NTLMv2Blob(ts, clientChal, ch.TargetInfo)
		msg.NtChallengeResponse, keyExchangeKey = NTLMv2Response(v2, ch.ServerChallenge[:], blob)
		if serverTime {
			msg.LmChallengeResponse = make([]byte, 24)
		} else {
			msg.LmChallengeResponse = LMv2Response(v2, ch.ServerChallenge[:], clientChal)
		}

	case VariantNTLM2:
		if flags&FlagExtendedSecurity != 0 {
			lm, nt := NTLM2SessionResponse(ntHash, ch.ServerChallenge[:], clientChal)
			msg.LmChallengeResponse, msg.NtChallengeResponse = lm[:], nt[:]
			keyExchangeKey = NTLM2SessionKey(ntHash, ch.ServerChallenge[:], clientChal)
		} else {
			nt := NTLMResponse(ntHash, ch.ServerChallenge[:])
			msg.LmChallengeResponse, msg.NtChallengeResponse = nt[:], nt[:]
			keyExchangeKey = SessionBaseKeyV1(ntHash)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOption, c.Variant)
	}

	c.sessionKey = keyExchangeKey[:]
	if flags&FlagKeyExchange != 0 {
		exported, err := c.random(16)
		if err != nil {
			return nil, err
		}
		msg.EncryptedRandomSessionKey = rc4Crypt(keyExchangeKey[:], exported)
		c.sessionKey = exported
	}
	msg.NegotiateFlags = flags
	return msg.Marshal(), nil
}

// SessionKey returns the exported session key after Authenticate, or nil for
// anonymous authentication.
func (c *Client) SessionKey() []byte {
	return c.sessionKey
}

func (c *Client) variant() Variant {
	if c.Variant == "" {
		return VariantNTLMv2
	}
	return c.Variant
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) random(n int) ([]byte, error) {
	r := c.Rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("ntlm: read random: %w", err)
	}
	return b, nil
}

// DecryptSessionKey recovers the exported session key from an AUTHENTICATE
// message given the key exchange key. Used by the test server.
func DecryptSessionKey(keyExchangeKey [16]byte, encrypted []byte) []byte {
	return rc4Crypt(keyExchangeKey[:], encrypted)
}
