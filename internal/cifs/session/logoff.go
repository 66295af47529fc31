package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// echoTID is the TID used by ECHO, which needs no tree.
const echoTID = 0xFFFF

// Logoff ends the session on the server. Statuses reporting that the session
// is already gone are treated as success. The session is unusable afterwards.
func (s *Session) Logoff(ctx context.Context) error {
	p := smbenc.NewWriter(4)
	writeAndXNone(p)
	req := s.request(types.CommandLogoffAndX, 0, p.Bytes(), nil)

	s.mu.Lock()
	s.status = StatusExiting
	s.authState = AuthUnauthenticated
	s.uid = 0
	s.mu.Unlock()

	resp, err := s.conn.RoundTrip(ctx, req, s.cfg.Timeout)
	if err != nil {
		return err
	}
	if resp.Status.IsSessionGone() {
		return nil
	}
	if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
		return fmt.Errorf("logoff: %w", err)
	}
	return nil
}

// Echo sends payload in an ECHO request on the session and checks that the
// server returns it unchanged.
func (s *Session) Echo(ctx context.Context, payload []byte) error {
	return Echo(ctx, s.conn, s.UID(), payload, s.cfg.Timeout)
}

// Echo sends one ECHO request on conn outside any tree. uid may be zero. It
// is used by the keep-alive loop, which has no session at hand.
func Echo(ctx context.Context, conn *transport.Conn, uid uint16, payload []byte, timeout time.Duration) error {
	p := smbenc.NewWriter(2)
	p.WriteUint16(1) // EchoCount

	resp, err := conn.RoundTrip(ctx, &transport.Request{
		Command: types.CommandEcho,
		Flags2:  types.Flags2LongNames | types.Flags2NTStatus,
		TID:     echoTID,
		UID:     uid,
		Params:  p.Bytes(),
		Data:    payload,
	}, timeout)
	if err != nil {
		return err
	}
	if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	if !bytes.Equal(resp.Data, payload) {
		return fmt.Errorf("%w: echo payload mismatch (%d bytes, sent %d)", types.ErrMalformedFrame, len(resp.Data), len(payload))
	}
	return nil
}
