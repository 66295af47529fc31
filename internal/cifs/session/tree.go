package session

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
)

const (
	treeConnectWordCount = 4

	treeReplyWordCount         = 3
	treeExtendedReplyWordCount = 7

	// anyService lets the server pick the share type.
	anyService = "?????"
)

// Tree is a connected share.
type Tree struct {
	// Share is the UNC path, \\server\share.
	Share string
	TID   uint16

	// Service is the share type reported by the server, e.g. "A:" or "IPC".
	Service  string
	NativeFS string

	OptionalSupport uint16

	// MaximalAccess and GuestMaximalAccess are set when Extended is true.
	Extended           bool
	MaximalAccess      uint32
	GuestMaximalAccess uint32
}

// DFS reports whether the share is part of a DFS namespace.
func (t *Tree) DFS() bool {
	return t.OptionalSupport&types.SupportShareIsInDFS != 0
}

// UNCPath returns share as \\server\share. Bare share names are qualified
// with the host part of addr; forward slashes are accepted.
func UNCPath(addr, share string) string {
	share = strings.ReplaceAll(share, "/", `\`)
	if strings.HasPrefix(share, `\\`) {
		return share
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return `\\` + host + `\` + strings.TrimLeft(share, `\`)
}

// TreeConnect connects the session to share. password is only used when the
// server runs share-level security.
func (s *Session) TreeConnect(ctx context.Context, share, password string) (*Tree, error) {
	path := UNCPath(s.conn.Addr(), share)

	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanTreeConnect,
		telemetry.ServerAddr(s.conn.Addr()),
		telemetry.SMBShare(path),
		telemetry.SMBUID(s.UID()),
	)
	defer span.End()

	neg := s.Negotiated()
	pw := s.treePassword(neg, password)

	p := smbenc.NewWriter(2 * treeConnectWordCount)
	writeAndXNone(p)
	p.WriteUint16(types.TreeConnectExtendedResponse)
	p.WriteUint16(uint16(len(pw)))

	d := smbenc.NewWriterAt(len(path)*2+16, header.DataOffsetFor(treeConnectWordCount))
	d.WriteBytes(pw)
	d.WriteString(path, neg.Unicode())
	d.WriteString(anyService, false)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("tree connect %s: encode: %w", path, err)
	}

	resp, err := s.conn.RoundTrip(ctx, s.request(types.CommandTreeConnectAndX, 0, p.Bytes(), d.Bytes()), s.cfg.Timeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("tree connect %s: %w", path, err)
	}

	tree, err := parseTreeReply(resp, path)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(telemetry.SMBTreeID(tree.TID))
	logger.DebugCtx(ctx, "tree connected",
		logger.KeyServer, s.conn.Addr(),
		logger.KeyShare, path,
		logger.KeyTID, tree.TID,
		"service", tree.Service,
		"native_fs", tree.NativeFS)
	return tree, nil
}

// treePassword returns the password field: a single null byte under
// user-level security, or the NTLM response to the negotiate challenge under
// share-level security.
func (s *Session) treePassword(neg *NegotiateResult, password string) []byte {
	if neg.SecurityMode&types.SecurityModeUserLevel != 0 || password == "" {
		return []byte{0}
	}
	if neg.SecurityMode&types.SecurityModeEncryptPasswords == 0 || len(neg.Challenge) < challengeSize {
		return []byte{0}
	}
	resp := ntlm.NTLMResponse(ntlm.NTHash(password), neg.Challenge)
	return resp[:]
}

func parseTreeReply(resp *header.Message, path string) (*Tree, error) {
	wc := resp.WordCount()
	if wc != treeReplyWordCount && wc != treeExtendedReplyWordCount {
		return nil, fmt.Errorf("%w: tree connect %s: word count %d", types.ErrMalformedFrame, path, wc)
	}

	tree := &Tree{Share: path, TID: resp.TID}
	p := smbenc.NewReader(resp.Params)
	p.Skip(4)
	tree.OptionalSupport = p.ReadUint16()
	if wc == treeExtendedReplyWordCount {
		tree.Extended = true
		tree.MaximalAccess = p.ReadUint32()
		tree.GuestMaximalAccess = p.ReadUint32()
	}

	d := smbenc.NewReaderAt(resp.Data, resp.DataOffset())
	tree.Service = d.ReadString(false)
	if d.Remaining() > 0 {
		tree.NativeFS = d.ReadString(resp.Unicode())
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: tree connect %s: %w", types.ErrMalformedFrame, path, err)
	}
	return tree, nil
}

// TreeDisconnect releases tree. A server that no longer knows the session or
// tree is treated as success.
func (s *Session) TreeDisconnect(ctx context.Context, tree *Tree) error {
	resp, err := s.conn.RoundTrip(ctx, s.request(types.CommandTreeDisconnect, tree.TID, nil, nil), s.cfg.Timeout)
	if err != nil {
		return err
	}
	if resp.Status.IsSessionGone() {
		return nil
	}
	if err := types.NewStatusError(resp.Command, resp.Status); err != nil {
		return fmt.Errorf("tree disconnect %s: %w", tree.Share, err)
	}
	return nil
}
