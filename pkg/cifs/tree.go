package cifs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/session"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

// Request is one SMB request issued on a tree. The client core fills in
// the header identifiers; Params and Data are the command's word and byte
// sections.
type Request struct {
	Command Command
	Flags2  Flags2
	Params  []byte
	Data    []byte

	// Timeout overrides the registry's request timeout when positive.
	Timeout time.Duration
}

// Response is the server's reply to a Request. A non-success Status is not
// an error by itself; see Err.
type Response struct {
	Command Command
	Status  Status
	Flags2  Flags2
	TID     uint16
	UID     uint16
	MID     uint16
	Params  []byte
	Data    []byte
}

// Err returns the status as a *StatusError, or nil on success and warning
// statuses.
func (r *Response) Err() error {
	return types.NewStatusError(r.Command, r.Status)
}

// Tree is a bound share. It is shared by every Bind of the same share with
// the same credentials and endpoint, and stays usable across reconnects.
type Tree struct {
	reg      *Registry
	sess     *sessionEntry
	path     string
	password string

	// refs is guarded by Registry.mu.
	refs int

	mu   sync.Mutex
	info *session.Tree
}

// Path returns the UNC path of the share.
func (t *Tree) Path() string { return t.path }

// Server returns the host:port of the server.
func (t *Tree) Server() string { return t.sess.conn.addr }

// TID returns the current tree ID. It changes when the tree is reconnected
// and is zero while the tree is not connected.
func (t *Tree) TID() uint16 {
	if info := t.current(); info != nil {
		return info.TID
	}
	return 0
}

// UID returns the current user ID of the tree's session.
func (t *Tree) UID() uint16 { return t.sess.sess.UID() }

// Signing reports whether requests on the tree's connection are signed.
func (t *Tree) Signing() bool { return t.sess.conn.conn.Signer().Active() }

// Info returns a copy of what the server reported on tree connect, or nil
// while the tree is not connected.
func (t *Tree) Info() *session.Tree {
	info := t.current()
	if info == nil {
		return nil
	}
	cp := *info
	return &cp
}

// RefCount returns the number of outstanding binds.
func (t *Tree) RefCount() int {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.refs
}

func (t *Tree) current() *session.Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

func (t *Tree) setCurrent(info *session.Tree) {
	t.mu.Lock()
	t.info = info
	t.mu.Unlock()
}

// SendAndWait sends req on the tree and waits for the response. A lost
// connection is re-established first, together with the tree's session and
// the tree itself.
func (t *Tree) SendAndWait(ctx context.Context, req *Request) (*Response, error) {
	if t.RefCount() == 0 {
		return nil, fmt.Errorf("%s: %w", t.path, ErrNotBound)
	}

	conn := t.sess.conn.conn
	if err := conn.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	info := t.current()
	if info == nil || t.sess.sess.AuthState() != session.AuthEstablished {
		var err error
		if info, err = t.reg.revive(ctx, t); err != nil {
			return nil, err
		}
	}

	msg, err := conn.RoundTrip(ctx, t.sess.sess.NewRequest(req.Command, info.TID, req.Flags2, req.Params, req.Data), req.Timeout)
	if err != nil {
		return nil, err
	}
	return &Response{
		Command: msg.Command,
		Status:  msg.Status,
		Flags2:  msg.Flags2,
		TID:     msg.TID,
		UID:     msg.UID,
		MID:     msg.MID,
		Params:  msg.Params,
		Data:    msg.Data,
	}, nil
}

// Echo sends an ECHO carrying payload on the tree's connection and returns
// the round-trip time. The reply must repeat the payload.
func (t *Tree) Echo(ctx context.Context, payload []byte) (time.Duration, error) {
	p := smbenc.NewWriter(2)
	p.WriteUint16(1)

	start := time.Now()
	resp, err := t.SendAndWait(ctx, &Request{
		Command: types.CommandEcho,
		Flags2:  types.Flags2LongNames | types.Flags2NTStatus,
		Params:  p.Bytes(),
		Data:    payload,
	})
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	if err := resp.Err(); err != nil {
		return rtt, err
	}
	if !bytes.Equal(resp.Data, payload) {
		return rtt, fmt.Errorf("%w: echo payload mismatch", ErrMalformedFrame)
	}
	return rtt, nil
}
