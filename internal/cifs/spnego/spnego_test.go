package spnego

import (
	"testing"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRoundTrip(t *testing.T) {
	token := []byte("NTLMSSP\x00\x01\x00\x00\x00")
	b, err := BuildInit([]asn1.ObjectIdentifier{OIDNTLMSSP}, token)
	require.NoError(t, err)
	assert.Equal(t, byte(0x60), b[0], "init tokens are GSS-API wrapped")

	p, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeInit, p.Type)
	assert.True(t, p.HasMechanism(OIDNTLMSSP))
	assert.False(t, p.HasKerberos())
	assert.Equal(t, token, p.MechToken)
}

func TestInitWithoutToken(t *testing.T) {
	b, err := BuildInit([]asn1.ObjectIdentifier{OIDMSKerberosV5, OIDNTLMSSP}, nil)
	require.NoError(t, err)

	p, err := Parse(b)
	require.NoError(t, err)
	assert.True(t, p.HasKerberos())
	assert.Empty(t, p.MechToken)
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() ([]byte, error)
		state NegState
		token []byte
	}{
		{"incomplete", func() ([]byte, error) { return BuildAcceptIncomplete(OIDNTLMSSP, []byte("chal")) }, NegStateAcceptIncomplete, []byte("chal")},
		{"complete", func() ([]byte, error) { return BuildAcceptComplete(OIDNTLMSSP, nil) }, NegStateAcceptCompleted, nil},
		{"reject", BuildReject, NegStateReject, nil},
		{"client", func() ([]byte, error) { return BuildClientResponse([]byte("auth")) }, NegStateAcceptCompleted, []byte("auth")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.build()
			require.NoError(t, err)
			p, err := Parse(b)
			require.NoError(t, err)
			assert.Equal(t, TokenTypeResp, p.Type)
			assert.Equal(t, tt.state, p.NegState)
			if tt.token != nil {
				assert.Equal(t, tt.token, p.MechToken)
			} else {
				assert.Empty(t, p.MechToken)
			}
		})
	}
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse([]byte{0x30, 0x03, 0x02, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrInvalidToken)
}
