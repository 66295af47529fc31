package ntlm

import (
	"crypto/hmac"
	"encoding/binary"

	"github.com/marmos91/cifscore/internal/cifs/smbenc"
)

// =============================================================================
// NEGOTIATE (Type 1)
// =============================================================================

// BuildNegotiate builds a NEGOTIATE message without domain or workstation.
func BuildNegotiate(flags NegotiateFlag) []byte {
	w := smbenc.NewWriter(negotiateBaseSize)
	w.WriteBytes(Signature)
	w.WriteUint32(uint32(Negotiate))
	w.WriteUint32(uint32(flags &^ (FlagDomainSupplied | FlagWorkstationSupplied | FlagVersion)))
	writeSecBuf(w, 0, negotiateBaseSize)
	writeSecBuf(w, 0, negotiateBaseSize)
	return w.Bytes()
}

// =============================================================================
// CHALLENGE (Type 2)
// =============================================================================

// ChallengeMessage holds the fields of a CHALLENGE message the client uses.
type ChallengeMessage struct {
	Flags           NegotiateFlag
	ServerChallenge [8]byte
	TargetName      string
	TargetInfo      []byte
}

// ParseChallenge parses a CHALLENGE message.
func ParseChallenge(buf []byte) (*ChallengeMessage, error) {
	if len(buf) < challengeBaseSize-8 {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Challenge {
		return nil, ErrWrongMessageType
	}

	msg := &ChallengeMessage{
		Flags: NegotiateFlag(binary.LittleEndian.Uint32(buf[challengeFlagsOffset:])),
	}
	copy(msg.ServerChallenge[:], buf[challengeServerChalOffset:challengeServerChalOffset+8])

	name, err := readSecBuf(buf, challengeTargetNameOffset)
	if err != nil {
		return nil, err
	}
	msg.TargetName = decodeString(name, msg.Flags&FlagUnicode != 0)

	// Old servers end the message before TargetInfo.
	if len(buf) >= challengeBaseSize && msg.Flags&FlagTargetInfo != 0 {
		info, err := readSecBuf(buf, challengeTargetInfoOffset)
		if err != nil {
			return nil, err
		}
		msg.TargetInfo = append([]byte(nil), info...)
	}
	return msg, nil
}

// Timestamp returns the MsvAvTimestamp value from TargetInfo, if present.
func (c *ChallengeMessage) Timestamp() (uint64, bool) {
	v, ok := FindAvPair(c.TargetInfo, AvTimestamp)
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// BuildChallenge builds a CHALLENGE message. Used by the test server.
func BuildChallenge(flags NegotiateFlag, serverChallenge [8]byte, targetName string, targetInfo []byte) []byte {
	name := encodeString(targetName, flags&FlagUnicode != 0)
	off := challengeBaseSize + challengeVersionSize

	w := smbenc.NewWriter(off + len(name) + len(targetInfo))
	w.WriteBytes(Signature)
	w.WriteUint32(uint32(Challenge))
	writeSecBuf(w, len(name), off)
	w.WriteUint32(uint32(flags | FlagTargetInfo))
	w.WriteBytes(serverChallenge[:])
	w.WriteZeros(8)
	writeSecBuf(w, len(targetInfo), off+len(name))
	w.WriteZeros(challengeVersionSize)
	w.WriteBytes(name)
	w.WriteBytes(targetInfo)
	return w.Bytes()
}

// BuildTargetInfo builds an AV_PAIR list with NetBIOS names and a timestamp.
func BuildTargetInfo(domain, computer string, timestamp uint64) []byte {
	w := smbenc.NewWriter(64)
	writeAvPair := func(id AvID, v []byte) {
		w.WriteUint16(uint16(id))
		w.WriteUint16(uint16(len(v)))
		w.WriteBytes(v)
	}
	writeAvPair(AvNbDomainName, encodeString(domain, true))
	writeAvPair(AvNbComputerName, encodeString(computer, true))
	if timestamp != 0 {
		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], timestamp)
		writeAvPair(AvTimestamp, ts[:])
	}
	writeAvPair(AvEOL, nil)
	return w.Bytes()
}

// FindAvPair returns the value of the first AV_PAIR with the given id.
func FindAvPair(info []byte, id AvID) ([]byte, bool) {
	r := smbenc.NewReader(info)
	for r.Remaining() >= 4 {
		avID := AvID(r.ReadUint16())
		n := int(r.ReadUint16())
		v := r.ReadSlice(n)
		if r.Err() != nil || avID == AvEOL {
			return nil, false
		}
		if avID == id {
			return v, true
		}
	}
	return nil, false
}

// =============================================================================
// AUTHENTICATE (Type 3)
// =============================================================================

// AuthenticateMessage contains the fields of an AUTHENTICATE message.
type AuthenticateMessage struct {
	LmChallengeResponse       []byte
	NtChallengeResponse       []byte
	Domain                    string
	Username                  string
	Workstation               string
	EncryptedRandomSessionKey []byte
	NegotiateFlags            NegotiateFlag
}

// Marshal encodes the message. Strings are UTF-16LE when FlagUnicode is set.
func (m *AuthenticateMessage) Marshal() []byte {
	unicode := m.NegotiateFlags&FlagUnicode != 0
	domain := encodeString(m.Domain, unicode)
	user := encodeString(m.Username, unicode)
	ws := encodeString(m.Workstation, unicode)

	fields := [][]byte{m.LmChallengeResponse, m.NtChallengeResponse, domain, user, ws, m.EncryptedRandomSessionKey}
	size := authBaseSize
	for _, f := range fields {
		size += len(f)
	}

	w := smbenc.NewWriter(size)
	w.WriteBytes(Signature)
	w.WriteUint32(uint32(Authenticate))
	off := authBaseSize
	for _, f := range fields {
		writeSecBuf(w, len(f), off)
		off += len(f)
	}
	w.WriteUint32(uint32(m.NegotiateFlags))
	for _, f := range fields {
		w.WriteBytes(f)
	}
	return w.Bytes()
}

// ParseAuthenticate parses an AUTHENTICATE message. Used by the test server.
func ParseAuthenticate(buf []byte) (*AuthenticateMessage, error) {
	if len(buf) < authBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsValid(buf) {
		return nil, ErrInvalidSignature
	}
	if GetMessageType(buf) != Authenticate {
		return nil, ErrWrongMessageType
	}

	msg := &AuthenticateMessage{
		NegotiateFlags: NegotiateFlag(binary.LittleEndian.Uint32(buf[authNegotiateFlagsOffset:])),
	}
	unicode := msg.NegotiateFlags&FlagUnicode != 0

	var fields [6][]byte
	for i, off := range []int{authLmResponseOffset, authNtResponseOffset, authDomainNameOffset,
		authUserNameOffset, authWorkstationOffset, authSessionKeyOffset} {
		b, err := readSecBuf(buf, off)
		if err != nil {
			return nil, err
		}
		fields[i] = b
	}
	msg.LmChallengeResponse = append([]byte(nil), fields[0]...)
	msg.NtChallengeResponse = append([]byte(nil), fields[1]...)
	msg.Domain = decodeString(fields[2], unicode)
	msg.Username = decodeString(fields[3], unicode)
	msg.Workstation = decodeString(fields[4], unicode)
	if len(fields[5]) > 0 {
		msg.EncryptedRandomSessionKey = append([]byte(nil), fields[5]...)
	}
	return msg, nil
}

// VerifyNTLMv2 checks an NTLMv2 response against the expected credentials and
// returns the session base key. Used by the test server.
func VerifyNTLMv2(ntHash [16]byte, user, domain string, serverChallenge [8]byte, resp []byte) ([16]byte, error) {
	var key [16]byte
	if len(resp) < 16+8 {
		return key, ErrResponseTooShort
	}
	v2 := NTLMv2Hash(ntHash, user, domain)
	proof := hmacMD5(v2[:], serverChallenge[:], resp[16:])
	if !hmac.Equal(proof, resp[:16]) {
		return key, ErrResponseMismatch
	}
	copy(key[:], hmacMD5(v2[:], proof))
	return key, nil
}

// =============================================================================
// Helpers
// =============================================================================

func writeSecBuf(w *smbenc.Writer, n, off int) {
	w.WriteUint16(uint16(n))
	w.WriteUint16(uint16(n))
	w.WriteUint32(uint32(off))
}

func readSecBuf(buf []byte, at int) ([]byte, error) {
	if at+8 > len(buf) {
		return nil, ErrMessageTooShort
	}
	n := int(binary.LittleEndian.Uint16(buf[at:]))
	off := int(binary.LittleEndian.Uint32(buf[at+4:]))
	if n == 0 {
		return nil, nil
	}
	if off < 0 || off+n > len(buf) {
		return nil, ErrFieldOutOfRange
	}
	return buf[off : off+n], nil
}

func encodeString(s string, unicode bool) []byte {
	if s == "" {
		return nil
	}
	if unicode {
		b, _ := smbenc.EncodeUTF16(s)
		return b
	}
	return smbenc.EncodeOEM(s)
}

func decodeString(b []byte, unicode bool) string {
	if unicode {
		return smbenc.DecodeUTF16(b)
	}
	return smbenc.DecodeOEM(b)
}
