package cifstest

import (
	"bytes"

	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/signing"
)

// verifyLegacy checks the password fields of a non-extended session setup
// and returns the signing key.
func (s *Server) verifyLegacy(user, domain string, challenge [8]byte, lm, nt []byte) (macKey []byte, guest, ok bool) {
	if user == "" && len(nt) == 0 && (len(lm) == 0 || bytes.Equal(lm, []byte{0})) {
		return nil, true, s.opts.AllowAnonymous
	}
	u, found := s.lookupUser(user)
	if !found {
		return nil, false, false
	}
	ntHash := ntlm.NTHash(u.Password)

	switch {
	case len(nt) == 24:
		want := ntlm.NTLMResponse(ntHash, challenge[:])
		if !bytes.Equal(nt, want[:]) {
			return nil, false, false
		}
		key := ntlm.SessionBaseKeyV1(ntHash)
		return signing.MACKey(key[:], nt), false, true

	case len(nt) > 24:
		for _, d := range []string{domain, u.Domain, s.opts.Domain} {
			key, err := ntlm.VerifyNTLMv2(ntHash, user, d, challenge, nt)
			if err == nil {
				return signing.MACKey(key[:], nt), false, true
			}
		}
		return nil, false, false

	case len(lm) == 24:
		want := ntlm.LMResponse(u.Password, challenge[:])
		return nil, false, bytes.Equal(lm, want[:])
	}
	return nil, false, false
}

// verifyNTLMSSP checks an AUTHENTICATE message against the challenge sent
// for it and returns the exported session key.
func (s *Server) verifyNTLMSSP(auth *ntlm.AuthenticateMessage, challenge [8]byte) (sessionKey []byte, guest, ok bool) {
	if auth.NegotiateFlags&ntlm.FlagAnonymous != 0 || (auth.Username == "" && len(auth.NtChallengeResponse) == 0) {
		return nil, true, s.opts.AllowAnonymous
	}
	u, found := s.lookupUser(auth.Username)
	if !found {
		return nil, false, false
	}
	ntHash := ntlm.NTHash(u.Password)
	nt := auth.NtChallengeResponse

	var kek [16]byte
	switch {
	case len(nt) == 24 && auth.NegotiateFlags&ntlm.FlagExtendedSecurity != 0 && len(auth.LmChallengeResponse) >= 8:
		clientChal := auth.LmChallengeResponse[:8]
		_, want := ntlm.NTLM2SessionResponse(ntHash, challenge[:], clientChal)
		if !bytes.Equal(nt, want[:]) {
			return nil, false, false
		}
		kek = ntlm.NTLM2SessionKey(ntHash, challenge[:], clientChal)

	case len(nt) == 24:
		want := ntlm.NTLMResponse(ntHash, challenge[:])
		if !bytes.Equal(nt, want[:]) {
			return nil, false, false
		}
		kek = ntlm.SessionBaseKeyV1(ntHash)

	case len(nt) > 24:
		key, err := ntlm.VerifyNTLMv2(ntHash, auth.Username, auth.Domain, challenge, nt)
		if err != nil {
			return nil, false, false
		}
		kek = key

	default:
		return nil, false, false
	}

	if auth.NegotiateFlags&ntlm.FlagKeyExchange != 0 && len(auth.EncryptedRandomSessionKey) == 16 {
		return ntlm.DecryptSessionKey(kek, auth.EncryptedRandomSessionKey), false, true
	}
	return kek[:], false, true
}
