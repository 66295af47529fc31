package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cifscore/internal/cifs/cifstest"
	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/signing"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

var alice = cifstest.User{Username: "alice", Password: "Secret123", Domain: "WORKGROUP"}

func aliceCreds(method string) Credentials {
	return Credentials{Username: alice.Username, Password: alice.Password, Domain: alice.Domain, Method: method}
}

func newServer(t *testing.T, opts cifstest.Options) *cifstest.Server {
	t.Helper()
	opts.Users = append(opts.Users, alice)
	opts.Shares = append(opts.Shares, cifstest.Share{Name: "data"}, cifstest.Share{Name: "IPC$", Service: "IPC"})
	return cifstest.NewServer(t, opts)
}

func testConfig() Config {
	return Config{
		Signing: signing.DefaultConfig(),
		Timeout: 2 * time.Second,
	}
}

func dial(t *testing.T, srv *cifstest.Server) *transport.Conn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), transport.Config{
		Address:        srv.Addr(),
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// establish negotiates on a fresh connection and sets up a session.
func establish(t *testing.T, srv *cifstest.Server, creds Credentials, cfg Config) *Session {
	t.Helper()
	conn := dial(t, srv)
	neg, err := Negotiate(context.Background(), conn, cfg)
	require.NoError(t, err)

	s := New(conn, neg, creds, cfg)
	require.NoError(t, s.Setup(context.Background()))
	return s
}

// =============================================================================
// Negotiate
// =============================================================================

func TestNegotiate(t *testing.T) {
	t.Run("Legacy", func(t *testing.T) {
		srv := newServer(t, cifstest.Options{Domain: "CORP", ServerName: "FILER"})
		conn := dial(t, srv)

		neg, err := Negotiate(context.Background(), conn, testConfig())
		require.NoError(t, err)

		assert.Equal(t, types.DialectNTLM012, neg.Dialect)
		assert.Equal(t, uint16(50), neg.MaxMpxCount)
		assert.Len(t, neg.Challenge, 8)
		assert.Equal(t, "CORP", neg.DomainName)
		assert.Equal(t, "FILER", neg.ServerName)
		assert.False(t, neg.ExtendedSecurity())
		assert.True(t, neg.Unicode())
		assert.False(t, neg.Signing)
		assert.False(t, neg.SystemTime.IsZero())
		assert.Equal(t, transport.StateGood, conn.State())
	})

	t.Run("ExtendedSecurity", func(t *testing.T) {
		srv := newServer(t, cifstest.Options{ExtendedSecurity: true})
		conn := dial(t, srv)

		neg, err := Negotiate(context.Background(), conn, testConfig())
		require.NoError(t, err)

		assert.True(t, neg.ExtendedSecurity())
		assert.NotEmpty(t, neg.SecurityBlob)
		assert.NotEqual(t, [16]byte{}, [16]byte(neg.ServerGUID))
		assert.Empty(t, neg.Challenge)
		assert.NotZero(t, neg.Flags2()&types.Flags2ExtendedSecurity)
	})

	t.Run("SigningRequiredByServer", func(t *testing.T) {
		srv := newServer(t, cifstest.Options{SigningRequired: true})
		conn := dial(t, srv)

		neg, err := Negotiate(context.Background(), conn, testConfig())
		require.NoError(t, err)
		assert.True(t, neg.Signing)
		assert.NotZero(t, neg.Flags2()&types.Flags2SecuritySignature)
	})

	t.Run("SigningRequiredButDisabled", func(t *testing.T) {
		srv := newServer(t, cifstest.Options{SigningRequired: true})
		conn := dial(t, srv)

		cfg := testConfig()
		cfg.Signing = signing.Config{}
		_, err := Negotiate(context.Background(), conn, cfg)
		assert.ErrorIs(t, err, types.ErrNegotiationFailed)
	})

	t.Run("NoCommonDialect", func(t *testing.T) {
		srv := newServer(t, cifstest.Options{RejectDialects: true})
		conn := dial(t, srv)

		_, err := Negotiate(context.Background(), conn, testConfig())
		assert.ErrorIs(t, err, types.ErrNegotiationFailed)
		assert.Equal(t, transport.StateNegotiating, conn.State())
	})
}

func TestParseNegotiateRejectsShortChallenge(t *testing.T) {
	params := make([]byte, 34)
	params[2] = byte(types.SecurityModeUserLevel | types.SecurityModeEncryptPasswords)
	params[33] = 4 // challenge length

	_, err := parseNegotiate(&header.Message{Params: params, Data: []byte{1, 2, 3, 4}})
	assert.ErrorIs(t, err, types.ErrNegotiationFailed)
}

func TestParseNegotiateRejectsWordCount(t *testing.T) {
	_, err := parseNegotiate(&header.Message{Params: make([]byte, 26)})
	assert.ErrorIs(t, err, types.ErrNegotiationFailed)
}

func TestFileTimeToTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, now.Equal(fileTimeToTime(ntlm.FileTime(now))))
	assert.True(t, fileTimeToTime(0).IsZero())
}

// =============================================================================
// Session setup
// =============================================================================

func TestSetupMethods(t *testing.T) {
	tests := []struct {
		name     string
		extended bool
		creds    Credentials
		want     string
	}{
		{"LANMAN", false, aliceCreds(MethodLANMAN), MethodLANMAN},
		{"NTLM", false, aliceCreds(MethodNTLM), MethodNTLM},
		{"NTLMv2", false, aliceCreds(MethodNTLMv2), MethodNTLMv2},
		{"NTLMv2WithoutDomain", false, Credentials{Username: "alice", Password: "Secret123", Method: MethodNTLMv2}, MethodNTLMv2},
		{"AutoLegacy", false, aliceCreds(""), MethodNTLMv2},
		{"NTLMSSP", true, aliceCreds(MethodNTLMSSP), MethodNTLMSSP},
		{"NTLMSSPWithNTLM2", true, Credentials{Username: "alice", Password: "Secret123", Method: MethodNTLMSSP, Variant: ntlm.VariantNTLM2}, MethodNTLMSSP},
		{"AutoExtended", true, aliceCreds(MethodAuto), MethodNTLMSSP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, cifstest.Options{ExtendedSecurity: tt.extended})
			s := establish(t, srv, tt.creds, testConfig())

			assert.Equal(t, AuthEstablished, s.AuthState())
			assert.Equal(t, StatusGood, s.Status())
			assert.NotZero(t, s.UID())
			assert.False(t, s.Guest())
			assert.Equal(t, tt.want, s.Method())

			nativeOS, nativeLanMan, domain := s.Info()
			assert.Equal(t, "Unix", nativeOS)
			assert.Equal(t, "cifstest", nativeLanMan)
			assert.Equal(t, "WORKGROUP", domain)

			require.NoError(t, s.Echo(context.Background(), []byte("ping")))
			assert.Equal(t, 1, srv.Sessions())
		})
	}
}

func TestSetupWithSigning(t *testing.T) {
	for _, extended := range []bool{false, true} {
		name := "Legacy"
		if extended {
			name = "Extended"
		}
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, cifstest.Options{ExtendedSecurity: extended, SigningRequired: true})
			s := establish(t, srv, aliceCreds(""), testConfig())

			assert.True(t, s.Conn().Signer().Active())
			for range 5 {
				require.NoError(t, s.Echo(context.Background(), []byte("signed")))
			}
			assert.Zero(t, srv.SignatureFailures())
		})
	}
}

func TestSetupSigningFirstKeyWins(t *testing.T) {
	srv := newServer(t, cifstest.Options{
		ExtendedSecurity: true,
		SigningRequired:  true,
		Users:            []cifstest.User{{Username: "bob", Password: "hunter2"}},
	})
	cfg := testConfig()
	first := establish(t, srv, aliceCreds(""), cfg)

	second := New(first.Conn(), first.Negotiated(), Credentials{Username: "bob", Password: "hunter2"}, cfg)
	require.NoError(t, second.Setup(context.Background()))
	assert.NotEqual(t, first.UID(), second.UID())

	require.NoError(t, first.Echo(context.Background(), []byte("a")))
	require.NoError(t, second.Echo(context.Background(), []byte("b")))
	assert.Zero(t, srv.SignatureFailures())
}

func TestSetupTamperedResponse(t *testing.T) {
	srv := newServer(t, cifstest.Options{SigningRequired: true})
	s := establish(t, srv, aliceCreds(MethodNTLM), testConfig())

	srv.TamperNext(types.CommandEcho, 1)
	err := s.Echo(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)

	require.NoError(t, s.Echo(context.Background(), []byte("y")))
}

func TestSetupVerifiesSignedSetupResponse(t *testing.T) {
	bob := cifstest.User{Username: "bob", Password: "hunter2"}
	srv := newServer(t, cifstest.Options{SigningRequired: true, Users: []cifstest.User{bob}})
	cfg := testConfig()
	first := establish(t, srv, aliceCreds(MethodNTLM), cfg)
	require.True(t, first.Conn().Signer().Active())

	bobCreds := Credentials{Username: bob.Username, Password: bob.Password, Method: MethodNTLM}
	second := New(first.Conn(), first.Negotiated(), bobCreds, cfg)

	srv.TamperNext(types.CommandSessionSetup, 1)
	err := second.Setup(context.Background())
	require.ErrorIs(t, err, types.ErrSignatureInvalid)
	assert.NotEqual(t, AuthEstablished, second.AuthState())
	assert.Zero(t, second.UID())

	require.NoError(t, second.Setup(context.Background()))
	assert.Equal(t, AuthEstablished, second.AuthState())
	require.NoError(t, first.Echo(context.Background(), []byte("a")))
	require.NoError(t, second.Echo(context.Background(), []byte("b")))
	assert.Zero(t, srv.SignatureFailures())
}

func TestSetupRejectsReplyShape(t *testing.T) {
	tests := []struct {
		name     string
		extended bool
		words    int
	}{
		{"LegacyTooLong", false, 4},
		{"LegacyTooShort", false, 2},
		{"ExtendedTooLong", true, 5},
		{"ExtendedTooShort", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, cifstest.Options{ExtendedSecurity: tt.extended})
			srv.Handle(types.CommandSessionSetup, func(_ context.Context, _ *header.Message) *cifstest.Reply {
				params := make([]byte, 2*tt.words)
				params[0] = byte(types.CommandNoAndX)
				return &cifstest.Reply{Status: types.StatusSuccess, Params: params}
			})

			conn := dial(t, srv)
			neg, err := Negotiate(context.Background(), conn, testConfig())
			require.NoError(t, err)

			s := New(conn, neg, aliceCreds(""), testConfig())
			err = s.Setup(context.Background())
			require.ErrorIs(t, err, types.ErrAuthenticationFailed)
			assert.ErrorIs(t, err, types.ErrMalformedFrame)
			assert.Equal(t, AuthFailed, s.AuthState())
			assert.Zero(t, s.UID())
		})
	}
}

func TestSetupWrongPassword(t *testing.T) {
	for _, extended := range []bool{false, true} {
		t.Run(map[bool]string{false: "Legacy", true: "Extended"}[extended], func(t *testing.T) {
			srv := newServer(t, cifstest.Options{ExtendedSecurity: extended})
			conn := dial(t, srv)
			neg, err := Negotiate(context.Background(), conn, testConfig())
			require.NoError(t, err)

			s := New(conn, neg, Credentials{Username: "alice", Password: "wrong"}, testConfig())
			err = s.Setup(context.Background())
			require.ErrorIs(t, err, types.ErrAuthenticationFailed)

			var se *types.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, types.StatusLogonFailure, se.Status)
			assert.Equal(t, AuthFailed, s.AuthState())

			// Failure is terminal: no further exchange with the server.
			before := srv.Requests(types.CommandSessionSetup)
			assert.ErrorIs(t, s.Setup(context.Background()), types.ErrAuthenticationFailed)
			assert.Equal(t, before, srv.Requests(types.CommandSessionSetup))
		})
	}
}

func TestSetupTransientFailureIsRetryable(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	conn := dial(t, srv)
	neg, err := Negotiate(context.Background(), conn, testConfig())
	require.NoError(t, err)

	srv.FailNext(types.CommandSessionSetup, types.StatusInsuffServerResources)
	s := New(conn, neg, aliceCreds(""), testConfig())

	err = s.Setup(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrAuthenticationFailed)
	assert.Equal(t, AuthNegotiated, s.AuthState())

	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, AuthEstablished, s.AuthState())
}

func TestSetupRefusesPlaintextServer(t *testing.T) {
	srv := newServer(t, cifstest.Options{PlaintextPasswords: true})
	conn := dial(t, srv)
	neg, err := Negotiate(context.Background(), conn, testConfig())
	require.NoError(t, err)

	s := New(conn, neg, aliceCreds(""), testConfig())
	assert.ErrorIs(t, s.Setup(context.Background()), types.ErrAuthenticationFailed)
	assert.Equal(t, AuthFailed, s.AuthState())
	assert.Zero(t, srv.Requests(types.CommandSessionSetup))
}

func TestSetupAnonymous(t *testing.T) {
	for _, extended := range []bool{false, true} {
		t.Run(map[bool]string{false: "Legacy", true: "Extended"}[extended], func(t *testing.T) {
			srv := newServer(t, cifstest.Options{ExtendedSecurity: extended, AllowAnonymous: true})
			s := establish(t, srv, Credentials{}, testConfig())

			assert.True(t, s.Guest())
			assert.False(t, s.Conn().Signer().Active())

			_, err := s.TreeConnect(context.Background(), "IPC$", "")
			require.NoError(t, err)
		})
	}
}

func TestSetupBeforeNegotiate(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := New(dial(t, srv), nil, aliceCreds(""), testConfig())
	assert.Equal(t, AuthUnauthenticated, s.AuthState())
	assert.ErrorIs(t, s.Setup(context.Background()), types.ErrNegotiationFailed)
}

func TestSetupIsIdempotent(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := establish(t, srv, aliceCreds(""), testConfig())

	before := srv.Requests(types.CommandSessionSetup)
	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, before, srv.Requests(types.CommandSessionSetup))
}

func TestInvalidateAndRebind(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := establish(t, srv, aliceCreds(""), testConfig())
	oldUID := s.UID()

	s.Invalidate()
	assert.Equal(t, StatusNegotiating, s.Status())
	assert.Equal(t, AuthUnauthenticated, s.AuthState())
	assert.Zero(t, s.UID())

	neg, err := Negotiate(context.Background(), s.Conn(), testConfig())
	require.NoError(t, err)
	s.Rebind(neg)
	assert.Equal(t, AuthNegotiated, s.AuthState())

	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, StatusGood, s.Status())
	assert.NotEqual(t, oldUID, s.UID())
}

func TestCustomMechanism(t *testing.T) {
	srv := newServer(t, cifstest.Options{ExtendedSecurity: true})
	conn := dial(t, srv)
	cfg := testConfig()
	neg, err := Negotiate(context.Background(), conn, cfg)
	require.NoError(t, err)

	var created int
	s := New(conn, neg, aliceCreds(""), cfg)
	s.Mechanism = func(creds Credentials, cfg Config) SecurityMechanism {
		created++
		return NewNTLMSSP(creds, cfg)
	}
	require.NoError(t, s.Setup(context.Background()))
	assert.Equal(t, 1, created)
}

// =============================================================================
// Method selection
// =============================================================================

func TestSelectAuthMethod(t *testing.T) {
	legacy := &NegotiateResult{}
	extended := &NegotiateResult{Capabilities: types.CapExtendedSecurity}

	tests := []struct {
		name    string
		method  string
		neg     *NegotiateResult
		want    string
		wantErr bool
	}{
		{"AutoLegacy", "", legacy, MethodNTLMv2, false},
		{"AutoExtended", MethodAuto, extended, MethodNTLMSSP, false},
		{"LANMAN", "LANMAN", legacy, MethodLANMAN, false},
		{"LANMANOnExtended", MethodLANMAN, extended, "", true},
		{"NTLMv2OnExtended", MethodNTLMv2, extended, "", true},
		{"NTLMSSPOnLegacy", MethodNTLMSSP, legacy, "", true},
		{"Unknown", "kerberos", legacy, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := SelectAuthMethod(tt.method, tt.neg)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrAuthenticationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Name())
		})
	}
}

func TestCredentials(t *testing.T) {
	assert.True(t, Credentials{}.Anonymous())
	assert.False(t, Credentials{Username: "guest"}.Anonymous())
	assert.Equal(t, `CORP\alice`, Credentials{Username: "alice", Domain: "CORP", Password: "x"}.Key())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "good", StatusGood.String())
	assert.Equal(t, "authenticating", AuthAuthenticating.String())
	assert.Equal(t, "unknown", AuthState(42).String())
}
