package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cifscore/internal/cifs/cifstest"
	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// =============================================================================
// Tree connect
// =============================================================================

func TestUNCPath(t *testing.T) {
	tests := []struct {
		addr, share, want string
	}{
		{"filer:445", "data", `\\filer\data`},
		{"10.0.0.1:445", `\data`, `\\10.0.0.1\data`},
		{"filer", "data", `\\filer\data`},
		{"filer:445", `\\other\data`, `\\other\data`},
		{"filer:445", "//other/data", `\\other\data`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UNCPath(tt.addr, tt.share), "%s + %s", tt.addr, tt.share)
	}
}

func TestTreeConnect(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := establish(t, srv, aliceCreds(""), testConfig())

	tree, err := s.TreeConnect(context.Background(), "data", "")
	require.NoError(t, err)

	assert.Equal(t, UNCPath(srv.Addr(), "data"), tree.Share)
	assert.NotZero(t, tree.TID)
	assert.Equal(t, "A:", tree.Service)
	assert.Equal(t, "NTFS", tree.NativeFS)
	assert.True(t, tree.Extended)
	assert.Equal(t, uint32(0x001F01FF), tree.MaximalAccess)
	assert.False(t, tree.DFS())
	assert.Equal(t, 1, srv.Trees())

	ipc, err := s.TreeConnect(context.Background(), "IPC$", "")
	require.NoError(t, err)
	assert.Equal(t, "IPC", ipc.Service)
	assert.NotEqual(t, tree.TID, ipc.TID)

	require.NoError(t, s.TreeDisconnect(context.Background(), tree))
	require.NoError(t, s.TreeDisconnect(context.Background(), ipc))
	assert.Zero(t, srv.Trees())

	// The server no longer knows the tree; that is not an error.
	require.NoError(t, s.TreeDisconnect(context.Background(), tree))
}

func TestTreeConnectUnknownShare(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := establish(t, srv, aliceCreds(""), testConfig())

	_, err := s.TreeConnect(context.Background(), "missing", "")
	var se *types.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, types.StatusBadNetworkName, se.Status)
}

func TestTreeConnectShareLevelPassword(t *testing.T) {
	srv := newServer(t, cifstest.Options{
		ShareLevel: true,
		Shares:     []cifstest.Share{{Name: "secret", Password: "opensesame"}},
	})
	s := establish(t, srv, aliceCreds(""), testConfig())

	_, err := s.TreeConnect(context.Background(), "secret", "opensesame")
	require.NoError(t, err)

	_, err = s.TreeConnect(context.Background(), "secret", "wrong")
	var se *types.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, types.StatusAccessDenied, se.Status)
}

func TestTreeConnectSigned(t *testing.T) {
	srv := newServer(t, cifstest.Options{ExtendedSecurity: true, SigningRequired: true})
	s := establish(t, srv, aliceCreds(""), testConfig())

	tree, err := s.TreeConnect(context.Background(), "data", "")
	require.NoError(t, err)
	require.NoError(t, s.TreeDisconnect(context.Background(), tree))
	assert.Zero(t, srv.SignatureFailures())
}

func TestParseTreeReplyWordCount(t *testing.T) {
	_, err := parseTreeReply(&header.Message{Params: make([]byte, 4)}, `\\h\s`)
	assert.ErrorIs(t, err, types.ErrMalformedFrame)
}

// =============================================================================
// Logoff and echo
// =============================================================================

func TestLogoff(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	s := establish(t, srv, aliceCreds(""), testConfig())
	require.Equal(t, 1, srv.Sessions())

	require.NoError(t, s.Logoff(context.Background()))
	assert.Equal(t, StatusExiting, s.Status())
	assert.Zero(t, s.UID())
	assert.Zero(t, srv.Sessions())

	// A second logoff hits a session the server no longer knows.
	require.NoError(t, s.Logoff(context.Background()))
}

func TestEcho(t *testing.T) {
	srv := newServer(t, cifstest.Options{})
	conn := dial(t, srv)
	_, err := Negotiate(context.Background(), conn, testConfig())
	require.NoError(t, err)

	t.Run("WithoutSession", func(t *testing.T) {
		require.NoError(t, Echo(context.Background(), conn, 0, []byte("hello"), 0))
		require.NoError(t, Echo(context.Background(), conn, 0, nil, 0))
	})

	t.Run("PayloadMismatch", func(t *testing.T) {
		srv.Handle(types.CommandEcho, func(_ context.Context, _ *header.Message) *cifstest.Reply {
			return &cifstest.Reply{Params: []byte{1, 0}, Data: []byte("other")}
		})
		defer srv.Handle(types.CommandEcho, nil)

		err := Echo(context.Background(), conn, 0, []byte("hello"), 0)
		assert.ErrorIs(t, err, types.ErrMalformedFrame)
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		srv.FailNext(types.CommandEcho, types.StatusNotSupported)
		err := Echo(context.Background(), conn, 0, []byte("hello"), 0)
		var se *types.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, types.StatusNotSupported, se.Status)
	})
}
