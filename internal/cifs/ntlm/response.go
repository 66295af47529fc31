package ntlm

import (
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"time"
)

// LMResponse is the 24-byte LANMAN challenge response.
func LMResponse(password string, challenge []byte) [24]byte {
	return desResponse(LMHash(password), challenge)
}

// NTLMResponse is the 24-byte NTLMv1 challenge response.
func NTLMResponse(ntHash [16]byte, challenge []byte) [24]byte {
	return desResponse(ntHash, challenge)
}

// SessionBaseKeyV1 is the NTLMv1 user session key, MD4(NTHash).
func SessionBaseKeyV1(ntHash [16]byte) [16]byte {
	return md4Sum(ntHash[:])
}

// NTLM2SessionResponse computes the NTLMv1 response with extended session
// security. Only the first 8 bytes of MD5(serverChallenge || clientChallenge)
// are used as the DES challenge. The LM field carries the client challenge.
func NTLM2SessionResponse(ntHash [16]byte, serverChallenge, clientChallenge []byte) (lm, nt [24]byte) {
	copy(lm[:8], clientChallenge)
	sum := md5.Sum(append(append([]byte(nil), serverChallenge...), clientChallenge...))
	nt = desResponse(ntHash, sum[:8])
	return lm, nt
}

// NTLM2SessionKey is the key exchange key for NTLM2 session security.
func NTLM2SessionKey(ntHash [16]byte, serverChallenge, clientChallenge []byte) [16]byte {
	base := SessionBaseKeyV1(ntHash)
	var out [16]byte
	copy(out[:], hmacMD5(base[:], serverChallenge, clientChallenge))
	return out
}

// LMv2Response is HMAC-MD5(v2Hash, serverChallenge || clientChallenge)
// followed by the 8-byte client challenge.
func LMv2Response(v2Hash [16]byte, serverChallenge, clientChallenge []byte) []byte {
	out := hmacMD5(v2Hash[:], serverChallenge, clientChallenge)
	return append(out, clientChallenge...)
}

// NTLMv2Blob builds the client blob hashed into the NTLMv2 response.
func NTLMv2Blob(timestamp uint64, clientChallenge, targetInfo []byte) []byte {
	blob := make([]byte, 0, 28+len(targetInfo)+4)
	blob = append(blob, 0x01, 0x01, 0, 0, 0, 0, 0, 0)
	blob = binary.LittleEndian.AppendUint64(blob, timestamp)
	blob = append(blob, clientChallenge...)
	blob = append(blob, 0, 0, 0, 0)
	blob = append(blob, targetInfo...)
	return append(blob, 0, 0, 0, 0)
}

// NTLMv2Response returns NTProofStr || blob and the session base key
// HMAC-MD5(v2Hash, NTProofStr).
func NTLMv2Response(v2Hash [16]byte, serverChallenge, blob []byte) (resp []byte, sessionBaseKey [16]byte) {
	proof := hmacMD5(v2Hash[:], serverChallenge, blob)
	copy(sessionBaseKey[:], hmacMD5(v2Hash[:], proof))
	resp = make([]byte, 0, len(proof)+len(blob))
	resp = append(resp, proof...)
	return append(resp, blob...), sessionBaseKey
}

// FileTime converts t to Windows FILETIME (100ns intervals since 1601).
func FileTime(t time.Time) uint64 {
	const epochDelta = 116444736000000000
	return uint64(t.UnixNano()/100) + epochDelta
}

// rc4Crypt encrypts (or decrypts) data with key.
func rc4Crypt(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		// Unreachable: NTLM keys are 16 bytes.
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}
