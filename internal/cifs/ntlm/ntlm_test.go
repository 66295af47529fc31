package ntlm

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test vectors from [MS-NLMP] Section 4.2.
var (
	vecServerChallenge = mustHex("0123456789abcdef")
	vecClientChallenge = mustHex("aaaaaaaaaaaaaaaa")
	vecTargetInfo      = mustHex("02000c0044006f006d00610069006e0001000c0053006500720076006500720000000000")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func hexOf(b []byte) string { return hex.EncodeToString(b) }

// =============================================================================
// Hashes
// =============================================================================

func TestNTHash(t *testing.T) {
	h := NTHash("Password")
	assert.Equal(t, "a4f49c406510bdcab6824ee7c30fd852", hexOf(h[:]))

	empty := NTHash("")
	assert.Equal(t, "31d6cfe0d16ae931b73c59d7e0c089c0", hexOf(empty[:]))
}

func TestLMHash(t *testing.T) {
	h := LMHash("Password")
	assert.Equal(t, "e52cac67419a9a224a3b108f3fa6cb6d", hexOf(h[:]))

	lower := LMHash("password")
	assert.Equal(t, h, lower, "LM hash uppercases the password")
}

func TestNTLMv2Hash(t *testing.T) {
	h := NTLMv2Hash(NTHash("Password"), "User", "Domain")
	assert.Equal(t, "0c868a403bfd7a93a3001ef22ef02e3f", hexOf(h[:]))

	upper := NTLMv2Hash(NTHash("Password"), "USER", "Domain")
	assert.Equal(t, h, upper, "user name is case-insensitive")

	other := NTLMv2Hash(NTHash("Password"), "User", "DOMAIN")
	assert.NotEqual(t, h, other, "domain is case-sensitive")
}

// =============================================================================
// Responses
// =============================================================================

func TestNTLMv1Responses(t *testing.T) {
	nt := NTLMResponse(NTHash("Password"), vecServerChallenge)
	assert.Equal(t, "67c43011f30298a2ad35ece64f16331c44bdbed927841f94", hexOf(nt[:]))

	lm := LMResponse("Password", vecServerChallenge)
	assert.Equal(t, "98def7b87f88aa5dafe2df779688a172def11c7d5ccdef13", hexOf(lm[:]))

	key := SessionBaseKeyV1(NTHash("Password"))
	assert.Equal(t, "d87262b0cde4b1cb7499becccdf10784", hexOf(key[:]))
}

func TestNTLM2SessionResponse(t *testing.T) {
	lm, nt := NTLM2SessionResponse(NTHash("Password"), vecServerChallenge, vecClientChallenge)
	assert.Equal(t, "aaaaaaaaaaaaaaaa00000000000000000000000000000000", hexOf(lm[:]))
	assert.Equal(t, "7537f803ae367128ca458204bde7caf81e97ed2683267232", hexOf(nt[:]))
}

func TestNTLMv2Responses(t *testing.T) {
	v2 := NTLMv2Hash(NTHash("Password"), "User", "Domain")

	lm := LMv2Response(v2, vecServerChallenge, vecClientChallenge)
	assert.Equal(t, "86c35097ac9cec102554764a57cccc19aaaaaaaaaaaaaaaa", hexOf(lm))

	blob := NTLMv2Blob(0, vecClientChallenge, vecTargetInfo)
	resp, key := NTLMv2Response(v2, vecServerChallenge, blob)
	assert.Equal(t, "68cd0ab851e51c96aabc927bebef6a1c", hexOf(resp[:16]))
	assert.Equal(t, blob, resp[16:])
	assert.Equal(t, "8de40ccadbc14a82f15cb0ad0de95ca3", hexOf(key[:]))

	var sc [8]byte
	copy(sc[:], vecServerChallenge)
	got, err := VerifyNTLMv2(NTHash("Password"), "User", "Domain", sc, resp)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = VerifyNTLMv2(NTHash("wrong"), "User", "Domain", sc, resp)
	assert.ErrorIs(t, err, ErrResponseMismatch)

	_, err = VerifyNTLMv2(NTHash("Password"), "User", "Domain", sc, resp[:10])
	assert.ErrorIs(t, err, ErrResponseTooShort)
}

func TestFileTime(t *testing.T) {
	assert.Equal(t, uint64(116444736000000000), FileTime(time.Unix(0, 0)))
}

// =============================================================================
// Messages
// =============================================================================

func TestBuildNegotiate(t *testing.T) {
	msg := BuildNegotiate(DefaultClientFlags | FlagVersion)
	require.Len(t, msg, negotiateBaseSize)
	assert.True(t, IsValid(msg))
	assert.Equal(t, Negotiate, GetMessageType(msg))
}

func TestChallengeRoundTrip(t *testing.T) {
	info := BuildTargetInfo("Domain", "Server", 0x01D0000000000000)
	var sc [8]byte
	copy(sc[:], vecServerChallenge)

	raw := BuildChallenge(FlagUnicode|FlagNTLM|FlagExtendedSecurity, sc, "Domain", info)
	ch, err := ParseChallenge(raw)
	require.NoError(t, err)
	assert.Equal(t, sc, ch.ServerChallenge)
	assert.Equal(t, "Domain", ch.TargetName)
	assert.Equal(t, info, ch.TargetInfo)
	assert.NotZero(t, ch.Flags&FlagTargetInfo)

	ts, ok := ch.Timestamp()
	require.True(t, ok)
	assert.Equal(t, uint64(0x01D0000000000000), ts)

	name, ok := FindAvPair(info, AvNbComputerName)
	require.True(t, ok)
	assert.Equal(t, "Server", decodeString(name, true))
}

func TestParseChallengeErrors(t *testing.T) {
	var sc [8]byte
	raw := BuildChallenge(FlagUnicode, sc, "X", nil)

	_, err := ParseChallenge(raw[:20])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	bad := bytes.Clone(raw)
	bad[0] = 'X'
	_, err = ParseChallenge(bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	wrongType := append(BuildNegotiate(DefaultClientFlags), make([]byte, 16)...)
	_, err = ParseChallenge(wrongType)
	assert.ErrorIs(t, err, ErrWrongMessageType)

	overrun := bytes.Clone(raw)
	overrun[challengeTargetNameOffset] = 0xFF
	_, err = ParseChallenge(overrun)
	assert.ErrorIs(t, err, ErrFieldOutOfRange)
}

func TestAuthenticateRoundTrip(t *testing.T) {
	in := &AuthenticateMessage{
		LmChallengeResponse:       bytes.Repeat([]byte{1}, 24),
		NtChallengeResponse:       bytes.Repeat([]byte{2}, 48),
		Domain:                    "Domain",
		Username:                  "User",
		Workstation:               "COMPUTER",
		EncryptedRandomSessionKey: bytes.Repeat([]byte{3}, 16),
		NegotiateFlags:            FlagUnicode | FlagNTLM | FlagKeyExchange,
	}
	out, err := ParseAuthenticate(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// =============================================================================
// Client
// =============================================================================

func TestClientNTLMv2AgainstServer(t *testing.T) {
	var sc [8]byte
	copy(sc[:], vecServerChallenge)
	challenge := BuildChallenge(DefaultClientFlags, sc, "Domain",
		BuildTargetInfo("Domain", "Server", FileTime(time.Now())))

	c := &Client{User: "User", Password: "Password", Domain: "Domain", Workstation: "WS"}
	raw, err := c.Authenticate(challenge)
	require.NoError(t, err)

	auth, err := ParseAuthenticate(raw)
	require.NoError(t, err)
	assert.Equal(t, "User", auth.Username)
	assert.Equal(t, make([]byte, 24), auth.LmChallengeResponse, "LM is zeroed when the server sends a timestamp")

	base, err := VerifyNTLMv2(NTHash("Password"), auth.Username, auth.Domain, sc, auth.NtChallengeResponse)
	require.NoError(t, err)
	require.Len(t, auth.EncryptedRandomSessionKey, 16)
	assert.Equal(t, c.SessionKey(), DecryptSessionKey(base, auth.EncryptedRandomSessionKey))
}

func TestClientNTLM2Variant(t *testing.T) {
	var sc [8]byte
	copy(sc[:], vecServerChallenge)
	challenge := BuildChallenge(DefaultClientFlags&^FlagKeyExchange, sc, "", nil)

	c := &Client{
		User: "User", Password: "Password", Domain: "Domain",
		Variant: VariantNTLM2,
		Rand:    bytes.NewReader(vecClientChallenge),
	}
	raw, err := c.Authenticate(challenge)
	require.NoError(t, err)

	auth, err := ParseAuthenticate(raw)
	require.NoError(t, err)
	assert.Equal(t, "7537f803ae367128ca458204bde7caf81e97ed2683267232", hexOf(auth.NtChallengeResponse))
	assert.Empty(t, auth.EncryptedRandomSessionKey)

	want := NTLM2SessionKey(NTHash("Password"), vecServerChallenge, vecClientChallenge)
	assert.Equal(t, want[:], c.SessionKey())
}

func TestClientAnonymous(t *testing.T) {
	var sc [8]byte
	c := &Client{}
	raw, err := c.Authenticate(BuildChallenge(DefaultClientFlags, sc, "", nil))
	require.NoError(t, err)

	auth, err := ParseAuthenticate(raw)
	require.NoError(t, err)
	assert.NotZero(t, auth.NegotiateFlags&FlagAnonymous)
	assert.Empty(t, auth.NtChallengeResponse)
	assert.Nil(t, c.SessionKey())
}

func TestClientUnknownVariant(t *testing.T) {
	var sc [8]byte
	c := &Client{User: "u", Password: "p", Variant: "lm"}
	_, err := c.Authenticate(BuildChallenge(DefaultClientFlags, sc, "", nil))
	assert.ErrorIs(t, err, ErrUnsupportedOption)
}
