package cifs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/cifscore/internal/cifs/session"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// Registry owns every connection, session and tree of a client process.
//
// Bind reuses a connection per endpoint, a session per credentials within
// the connection and a tree per share within the session. Unbind releases
// them in reverse: the last tree of a session logs it off and the last
// session of a connection closes it.
//
// Lookups and reference counts are guarded by mu; network I/O always happens
// outside it. Concurrent creation of the same connection, session or tree is
// coalesced.
type Registry struct {
	opts    Options
	sessCfg session.Config

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool

	flights singleflight.Group
}

// connection is a shared transport.Conn and the sessions bound on it.
type connection struct {
	addr string
	conn *transport.Conn

	// Guarded by Registry.mu.
	neg      *session.NegotiateResult
	sessions map[string]*sessionEntry
	pins     int
}

// sessionEntry is an established session and the trees bound through it.
type sessionEntry struct {
	key  string
	conn *connection
	sess *session.Session

	// Guarded by Registry.mu.
	trees    map[string]*Tree
	pins     int
	detached bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{
		opts:    opts,
		sessCfg: opts.sessionConfig(),
		conns:   make(map[string]*connection),
	}
}

// Bind returns the tree for share on ep, authenticated with creds, creating
// the connection, session and tree as needed. Every successful Bind must be
// paired with an Unbind.
func (r *Registry) Bind(ctx context.Context, ep Endpoint, creds Credentials, share string) (*Tree, error) {
	addr := ep.HostPort()

	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanBind,
		telemetry.ServerAddr(addr),
		telemetry.SMBShare(share),
		telemetry.Username(creds.Username),
		telemetry.Domain(creds.Domain),
	)
	defer span.End()
	ctx = withLogContext(ctx, "bind")

	c, err := r.acquireConnection(ctx, addr)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("bind %s on %s: %w", share, addr, err)
	}
	defer r.releaseConnection(c)

	s, err := r.acquireSession(ctx, c, creds)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("bind %s on %s: %w", share, addr, err)
	}
	defer r.releaseSession(ctx, s)

	t, err := r.acquireTree(ctx, s, share, creds.SharePassword)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("bind %s on %s: %w", share, addr, err)
	}

	span.SetAttributes(
		telemetry.SMBUID(s.sess.UID()),
		telemetry.SMBTreeID(t.TID()),
		telemetry.AuthMethod(s.sess.Method()),
	)
	return t, nil
}

// Unbind drops one reference to t. The last reference disconnects the tree;
// a server answering busy is treated as already disconnected.
func (r *Registry) Unbind(ctx context.Context, t *Tree) error {
	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanUnbind,
		telemetry.ServerAddr(t.Server()),
		telemetry.SMBShare(t.path),
	)
	defer span.End()
	ctx = withLogContext(ctx, "unbind")

	r.mu.Lock()
	if t.refs <= 0 {
		r.mu.Unlock()
		return fmt.Errorf("unbind %s: %w", t.path, ErrNotBound)
	}
	t.refs--
	if t.refs > 0 {
		n := t.refs
		r.mu.Unlock()
		span.SetAttributes(telemetry.RefCount(n))
		return nil
	}

	s := t.sess
	c := s.conn
	if s.trees[t.path] == t {
		delete(s.trees, t.path)
	}
	s.pins++
	c.pins++
	r.updateGaugesLocked()
	r.mu.Unlock()

	err := r.disconnectTree(ctx, t)
	r.releaseSession(ctx, s)
	r.releaseConnection(c)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// Close disconnects every tree, logs off every session and closes every
// connection. Trees still bound become unusable.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	type teardown struct {
		c        *connection
		sessions []*sessionEntry
		trees    map[*sessionEntry][]*Tree
	}
	plans := make([]teardown, 0, len(r.conns))
	for _, c := range r.conns {
		p := teardown{c: c, trees: make(map[*sessionEntry][]*Tree)}
		for _, s := range c.sessions {
			p.sessions = append(p.sessions, s)
			p.trees[s] = slices.Collect(maps.Values(s.trees))
			for _, t := range s.trees {
				t.refs = 0
			}
			clear(s.trees)
			s.detached = true
		}
		clear(c.sessions)
		plans = append(plans, p)
	}
	clear(r.conns)
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, p := range plans {
		if p.c.conn.State() == transport.StateGood {
			for _, s := range p.sessions {
				for _, t := range p.trees[s] {
					_ = r.disconnectTree(ctx, t)
				}
				r.logoff(ctx, s)
			}
		}
		_ = p.c.conn.Close()
	}
	return nil
}

// =============================================================================
// Connections
// =============================================================================

// acquireConnection returns the pinned connection for addr, dialing and
// negotiating it when none is usable.
func (r *Registry) acquireConnection(ctx context.Context, addr string) (*connection, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if c, ok := r.conns[addr]; ok {
			if c.conn.State() != transport.StateExiting {
				c.pins++
				r.mu.Unlock()
				return c, nil
			}
			// Reconnection was abandoned. Sessions still bound keep the
			// entry alive until they are unbound.
			delete(r.conns, addr)
			r.updateGaugesLocked()
		}
		r.mu.Unlock()

		_, err, _ := r.flights.Do("conn\x00"+addr, func() (any, error) {
			return nil, r.connect(ctx, addr)
		})
		if err != nil {
			return nil, err
		}
	}
}

// connect dials addr, negotiates and publishes the connection.
func (r *Registry) connect(ctx context.Context, addr string) error {
	c := &connection{addr: addr, sessions: make(map[string]*sessionEntry)}

	cfg := r.opts.transportConfig(addr)
	cfg.OnReconnect = func(ctx context.Context, conn *transport.Conn) error {
		return r.reestablish(ctx, c, conn)
	}
	cfg.OnDisconnect = func(_ *transport.Conn, err error) {
		r.invalidate(c, err)
	}
	cfg.OnNotification = r.notify

	conn, err := transport.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	neg, err := session.Negotiate(ctx, conn, r.sessCfg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.conn = conn
	c.neg = neg

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	r.conns[addr] = c
	r.updateGaugesLocked()
	r.mu.Unlock()

	conn.StartKeepalive(r.opts.KeepaliveInterval, ping)

	logger.InfoCtx(ctx, "connected",
		logger.KeyServer, addr,
		logger.KeyConnID, conn.ID(),
		logger.KeyDialect, neg.Dialect,
		logger.KeySigning, neg.Signing)
	return nil
}

func (r *Registry) releaseConnection(c *connection) {
	r.mu.Lock()
	c.pins--
	if c.pins > 0 || len(c.sessions) > 0 {
		r.mu.Unlock()
		return
	}
	if r.conns[c.addr] == c {
		delete(r.conns, c.addr)
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	_ = c.conn.Close()
	logger.Debug("connection released",
		logger.KeyServer, c.addr,
		logger.KeyConnID, c.conn.ID())
}

// =============================================================================
// Sessions
// =============================================================================

// acquireSession returns the pinned session for creds on c, establishing it
// when absent and re-authenticating it when a reconnect could not.
func (r *Registry) acquireSession(ctx context.Context, c *connection, creds Credentials) (*sessionEntry, error) {
	sc := creds.session()
	key := sc.Key()

	for {
		r.mu.Lock()
		if s, ok := c.sessions[key]; ok && !s.detached {
			if s.sess.AuthState() == session.AuthFailed {
				r.mu.Unlock()
				return nil, fmt.Errorf("%w: session for %s was rejected", ErrAuthenticationFailed, key)
			}
			s.pins++
			r.mu.Unlock()
			if s.sess.AuthState() == session.AuthEstablished {
				return s, nil
			}
			err := c.conn.EnsureConnected(ctx)
			if err == nil {
				err = r.resetup(ctx, s)
			}
			if err != nil {
				r.releaseSession(ctx, s)
				return nil, err
			}
			return s, nil
		}
		r.mu.Unlock()

		_, err, _ := r.flights.Do("session\x00"+c.conn.ID()+"\x00"+key, func() (any, error) {
			return nil, r.establish(ctx, c, key, sc)
		})
		if err != nil {
			return nil, err
		}
	}
}

// establish authenticates a new session on c and publishes it.
func (r *Registry) establish(ctx context.Context, c *connection, key string, creds session.Credentials) error {
	if err := c.conn.EnsureConnected(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	neg := c.neg
	r.mu.Unlock()

	sess := session.New(c.conn, neg, creds, r.sessCfg)
	if err := sess.Setup(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	c.sessions[key] = &sessionEntry{
		key:   key,
		conn:  c,
		sess:  sess,
		trees: make(map[string]*Tree),
	}
	r.updateGaugesLocked()
	r.mu.Unlock()
	return nil
}

// releaseSession unpins s and logs it off once nothing references it.
func (r *Registry) releaseSession(ctx context.Context, s *sessionEntry) {
	r.mu.Lock()
	s.pins--
	if s.pins > 0 || len(s.trees) > 0 || s.detached {
		r.mu.Unlock()
		return
	}
	s.detached = true
	if s.conn.sessions[s.key] == s {
		delete(s.conn.sessions, s.key)
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.logoff(ctx, s)
}

func (r *Registry) logoff(ctx context.Context, s *sessionEntry) {
	if s.sess.AuthState() != session.AuthEstablished || s.conn.conn.State() != transport.StateGood {
		return
	}
	if err := s.sess.Logoff(ctx); err != nil && !busy(err) && !transient(err) {
		logger.WarnCtx(ctx, "logoff failed",
			logger.KeyServer, s.conn.addr,
			logger.KeyUsername, s.key,
			logger.KeyError, err)
	}
}

// =============================================================================
// Trees
// =============================================================================

// acquireTree returns share on s with one more reference, connecting it
// when absent or left disconnected by a reconnect.
func (r *Registry) acquireTree(ctx context.Context, s *sessionEntry, share, password string) (*Tree, error) {
	path := session.UNCPath(s.conn.addr, share)

	for {
		r.mu.Lock()
		if t, ok := s.trees[path]; ok {
			t.refs++
			r.mu.Unlock()
			if t.current() != nil {
				return t, nil
			}
			if _, err := r.revive(ctx, t); err != nil {
				_ = r.Unbind(ctx, t)
				return nil, err
			}
			return t, nil
		}
		r.mu.Unlock()

		_, err, _ := r.flights.Do("tree\x00"+s.conn.conn.ID()+"\x00"+s.key+"\x00"+path, func() (any, error) {
			return nil, r.connectTree(ctx, s, path, password)
		})
		if err != nil {
			return nil, err
		}
	}
}

func (r *Registry) connectTree(ctx context.Context, s *sessionEntry, path, password string) error {
	if err := s.conn.conn.EnsureConnected(ctx); err != nil {
		return err
	}
	info, err := s.sess.TreeConnect(ctx, path, password)
	if err != nil {
		return err
	}

	t := &Tree{reg: r, sess: s, path: path, password: password, info: info}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.detached {
		return fmt.Errorf("%w: session for %s was released", ErrConnectionLost, s.key)
	}
	s.trees[path] = t
	r.updateGaugesLocked()
	return nil
}

// disconnectTree sends TREE_DISCONNECT for t when the connection is still up.
func (r *Registry) disconnectTree(ctx context.Context, t *Tree) error {
	info := t.current()
	if info == nil || t.sess.conn.conn.State() != transport.StateGood {
		return nil
	}

	err := t.sess.sess.TreeDisconnect(ctx, info)
	switch {
	case err == nil:
		return nil
	case busy(err), transient(err):
		logger.DebugCtx(ctx, "tree disconnect not acknowledged",
			logger.KeyServer, t.sess.conn.addr,
			logger.KeyShare, t.path,
			logger.KeyError, err)
		return nil
	default:
		logger.WarnCtx(ctx, "tree disconnect failed",
			logger.KeyServer, t.sess.conn.addr,
			logger.KeyShare, t.path,
			logger.KeyError, err)
		return fmt.Errorf("unbind %s: %w", t.path, err)
	}
}

// updateGaugesLocked publishes the number of live objects. r.mu must be held.
func (r *Registry) updateGaugesLocked() {
	if r.opts.Metrics == nil {
		return
	}
	var sessions, trees int
	for _, c := range r.conns {
		sessions += len(c.sessions)
		for _, s := range c.sessions {
			trees += len(s.trees)
		}
	}
	metrics.SetActive(r.opts.Metrics, "connections", len(r.conns))
	metrics.SetActive(r.opts.Metrics, "sessions", sessions)
	metrics.SetActive(r.opts.Metrics, "trees", trees)
}

// withLogContext tags ctx so that log lines emitted below it carry op and
// the active trace.
func withLogContext(ctx context.Context, op string) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = &logger.LogContext{StartTime: time.Now()}
	}
	return logger.WithContext(ctx, lc.WithOperation(op).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))
}
