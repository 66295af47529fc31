package ntlm

import (
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"strings"

	"golang.org/x/crypto/md4" //nolint:staticcheck // MD4 is required for NTLM protocol compatibility

	"github.com/marmos91/cifscore/internal/cifs/smbenc"
)

// lmMagic is the constant encrypted with the LM password halves.
var lmMagic = []byte("KGS!@#$%")

// NTHash computes MD4(UTF-16LE(password)).
func NTHash(password string) [16]byte {
	b, _ := smbenc.EncodeUTF16(password)
	h := md4.New()
	h.Write(b)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// LMHash computes the LAN Manager hash: the uppercased OEM password, padded
// or truncated to 14 bytes, split into two DES keys that each encrypt
// "KGS!@#$%".
func LMHash(password string) [16]byte {
	pw := make([]byte, 14)
	copy(pw, smbenc.EncodeOEM(strings.ToUpper(password)))

	var out [16]byte
	desEncrypt(pw[:7], lmMagic, out[:8])
	desEncrypt(pw[7:], lmMagic, out[8:])
	return out
}

// NTLMv2Hash computes HMAC-MD5(NTHash, UTF-16LE(UPPER(user) + domain)).
func NTLMv2Hash(ntHash [16]byte, user, domain string) [16]byte {
	b, _ := smbenc.EncodeUTF16(strings.ToUpper(user) + domain)
	var out [16]byte
	copy(out[:], hmacMD5(ntHash[:], b))
	return out
}

// desResponse computes the 24-byte DESL response: the 16-byte hash padded
// to 21 bytes forms three DES keys that each encrypt the 8-byte challenge.
func desResponse(hash [16]byte, challenge []byte) [24]byte {
	var key [21]byte
	copy(key[:], hash[:])
	var out [24]byte
	desEncrypt(key[0:7], challenge, out[0:8])
	desEncrypt(key[7:14], challenge, out[8:16])
	desEncrypt(key[14:21], challenge, out[16:24])
	return out
}

// desEncrypt encrypts one 8-byte block with a 56-bit key.
func desEncrypt(key7, src, dst []byte) {
	block, err := des.NewCipher(expandDESKey(key7))
	if err != nil {
		// Unreachable: the expanded key is always 8 bytes.
		panic(err)
	}
	block.Encrypt(dst, src)
}

// expandDESKey spreads 56 key bits over 8 bytes, leaving the low parity bit
// of each byte clear.
func expandDESKey(k []byte) []byte {
	return []byte{
		k[0] & 0xFE,
		k[0]<<7 | k[1]>>1,
		k[1]<<6 | k[2]>>2,
		k[2]<<5 | k[3]>>3,
		k[3]<<4 | k[4]>>4,
		k[4]<<3 | k[5]>>5,
		k[5]<<2 | k[6]>>6,
		k[6] << 1,
	}
}

func hmacMD5(key []byte, parts ...[]byte) []byte {
	m := hmac.New(md5.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

func md4Sum(b []byte) [16]byte {
	h := md4.New()
	h.Write(b)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
