package cifs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/session"
	"github.com/marmos91/cifscore/internal/cifs/smbenc"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
)

var keepalivePayload = []byte("cifscore")

// ping is the keepalive probe: an ECHO outside any session.
func ping(ctx context.Context, c *transport.Conn) error {
	return session.Echo(ctx, c, 0, keepalivePayload, 0)
}

// invalidate runs when c's socket is lost. Sessions keep their entries but
// lose their UIDs, and trees their TIDs, until the next reconnect restores
// them.
func (r *Registry) invalidate(c *connection, cause error) {
	r.mu.Lock()
	sessions := slices.Collect(maps.Values(c.sessions))
	var trees []*Tree
	for _, s := range sessions {
		trees = slices.AppendSeq(trees, maps.Values(s.trees))
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.sess.Invalidate()
	}
	for _, t := range trees {
		t.setCurrent(nil)
	}
	logger.Debug("sessions invalidated",
		logger.KeyServer, c.addr,
		"sessions", len(sessions),
		logger.KeyError, cause)
}

// reestablish is the transport.ReconnectHandler of c. It renegotiates, then
// re-authenticates every session and reconnects its trees. A session the
// server now rejects is left failed; its trees report the failure on use.
// A session or tree refused for any other reason is left disconnected and
// retried by revive on its next use. Transport failures abort the attempt
// so that the next one starts over.
func (r *Registry) reestablish(ctx context.Context, c *connection, conn *transport.Conn) error {
	ctx = withLogContext(ctx, "reconnect")
	neg, err := session.Negotiate(ctx, conn, r.sessCfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	c.neg = neg
	sessions := slices.Collect(maps.Values(c.sessions))
	trees := make(map[*sessionEntry][]*Tree, len(sessions))
	for _, s := range sessions {
		trees[s] = slices.Collect(maps.Values(s.trees))
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if s.sess.Status() == session.StatusExiting {
			continue
		}
		s.sess.Rebind(neg)
		if err := s.sess.Setup(ctx); err != nil {
			if transient(err) {
				return err
			}
			logger.WarnCtx(ctx, "session not restored after reconnect",
				logger.KeyServer, c.addr,
				logger.KeyUsername, s.key,
				logger.KeyError, err)
			for _, t := range trees[s] {
				t.setCurrent(nil)
			}
			continue
		}

		for _, t := range trees[s] {
			info, err := s.sess.TreeConnect(ctx, t.path, t.password)
			if err != nil {
				if transient(err) {
					return err
				}
				logger.WarnCtx(ctx, "tree not restored after reconnect",
					logger.KeyServer, c.addr,
					logger.KeyShare, t.path,
					logger.KeyError, err)
				t.setCurrent(nil)
				continue
			}
			t.setCurrent(info)
		}
	}

	logger.InfoCtx(ctx, "sessions restored",
		logger.KeyServer, c.addr,
		logger.KeyConnID, conn.ID(),
		"sessions", len(sessions))
	return nil
}

// notify handles server-initiated messages. Only oplock breaks are routed
// here by the transport.
func (r *Registry) notify(conn *transport.Conn, msg *header.Message) {
	p := smbenc.NewReader(msg.Params)
	p.Skip(4) // AndX
	brk := OplockBreak{Server: conn.Addr(), TID: msg.TID}
	brk.FID = p.ReadUint16()
	p.Skip(1) // lock type
	brk.Level = p.ReadUint8()
	if err := p.Err(); err != nil {
		logger.Debug("discarding malformed oplock break",
			logger.KeyServer, conn.Addr(),
			logger.KeyError, errors.Join(types.ErrMalformedFrame, err))
		return
	}

	logger.Debug("oplock break",
		logger.KeyServer, conn.Addr(),
		logger.KeyTID, brk.TID,
		"fid", brk.FID,
		"level", brk.Level)
	if h := r.opts.OnOplockBreak; h != nil {
		h(brk)
	}
}

// revive brings t back after a reconnect that could not restore its session
// or the tree itself, and returns the tree's current connect info. Callers
// racing on the same session or tree share one attempt.
func (r *Registry) revive(ctx context.Context, t *Tree) (*session.Tree, error) {
	if err := r.resetup(ctx, t.sess); err != nil {
		return nil, err
	}
	if info := t.current(); info != nil {
		return info, nil
	}

	s := t.sess
	_, err, _ := r.flights.Do("retree\x00"+s.conn.conn.ID()+"\x00"+s.key+"\x00"+t.path, func() (any, error) {
		if t.current() != nil {
			return nil, nil
		}
		info, err := s.sess.TreeConnect(ctx, t.path, t.password)
		if err != nil {
			return nil, err
		}
		t.setCurrent(info)
		logger.DebugCtx(ctx, "tree revived",
			logger.KeyServer, s.conn.addr,
			logger.KeyShare, t.path,
			logger.KeyTID, info.TID)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconnect tree %s: %w", t.path, err)
	}
	if info := t.current(); info != nil {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s is not connected", ErrConnectionLost, t.path)
}

// resetup re-authenticates s when a reconnect left it unauthenticated.
func (r *Registry) resetup(ctx context.Context, s *sessionEntry) error {
	switch s.sess.AuthState() {
	case session.AuthEstablished:
		return nil
	case session.AuthFailed:
		return fmt.Errorf("%w: session for %s was rejected", ErrAuthenticationFailed, s.key)
	}

	_, err, _ := r.flights.Do("resetup\x00"+s.conn.conn.ID()+"\x00"+s.key, func() (any, error) {
		if err := s.sess.Setup(ctx); err != nil {
			return nil, err
		}
		logger.DebugCtx(ctx, "session revived",
			logger.KeyServer, s.conn.addr,
			logger.KeyUsername, s.key,
			logger.KeyUID, s.sess.UID())
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("session for %s: %w", s.key, err)
	}
	return nil
}
