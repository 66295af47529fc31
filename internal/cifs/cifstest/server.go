package cifstest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
)

// User is an account the server authenticates.
type User struct {
	Username string
	Password string
	Domain   string
}

// Share is an exported share.
type Share struct {
	Name string

	// Password protects the share under share-level security.
	Password string

	// Service is reported in the tree connect reply. Defaults to "A:".
	Service string
}

// Options configures a Server.
type Options struct {
	Domain     string
	ServerName string

	Users  []User
	Shares []Share

	// AllowAnonymous accepts null sessions, logged on as guest.
	AllowAnonymous bool

	ExtendedSecurity bool
	SigningEnabled   bool
	SigningRequired  bool

	// ShareLevel switches the server to share-level security.
	ShareLevel bool

	// PlaintextPasswords clears NEGOTIATE_ENCRYPT_PASSWORDS.
	PlaintextPasswords bool

	// RejectDialects answers NEGOTIATE with dialect index 0xFFFF.
	RejectDialects bool

	MaxMpx uint16
}

func (o *Options) applyDefaults() {
	if o.Domain == "" {
		o.Domain = "WORKGROUP"
	}
	if o.ServerName == "" {
		o.ServerName = "CIFSTEST"
	}
	if o.MaxMpx == 0 {
		o.MaxMpx = 50
	}
}

// Reply is a response produced by a HandlerFunc.
type Reply struct {
	Status types.Status
	Params []byte
	Data   []byte
}

// HandlerFunc overrides the server's handling of one command. Returning nil
// sends no response. ctx is cancelled when the server closes.
type HandlerFunc func(ctx context.Context, req *header.Message) *Reply

// Server is a loopback SMB1 server.
type Server struct {
	opts Options
	ln   net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[*conn]struct{}
	handlers map[types.Command]HandlerFunc
	delays   map[types.Command]time.Duration
	drops    map[types.Command]int
	tampers  map[types.Command]int
	failures map[types.Command][]types.Status
	requests map[types.Command]int
	closed   bool

	nextUID           atomic.Uint32
	accepted          atomic.Int64
	signatureFailures atomic.Int64
}

// Start listens on a loopback port and serves until Close.
func Start(opts Options) (*Server, error) {
	opts.applyDefaults()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("cifstest: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		ln:       ln,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*conn]struct{}),
		handlers: make(map[types.Command]HandlerFunc),
		delays:   make(map[types.Command]time.Duration),
		drops:    make(map[types.Command]int),
		tampers:  make(map[types.Command]int),
		failures: make(map[types.Command][]types.Status),
		requests: make(map[types.Command]int),
	}
	s.nextUID.Store(100)

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// NewServer starts a Server and closes it when the test ends.
func NewServer(tb testing.TB, opts Options) *Server {
	tb.Helper()
	s, err := Start(opts)
	if err != nil {
		tb.Fatalf("start test server: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the listener, drops every connection and waits for the
// server's goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.ln.Close()
	s.CloseConnections()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("cifstest: accept failed", logger.KeyError, err)
			}
			return
		}

		c := newConn(s, nc)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.accepted.Add(1)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()

			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// =============================================================================
// Fault injection
// =============================================================================

// Handle overrides the handling of cmd. A nil fn restores the default.
func (s *Server) Handle(cmd types.Command, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.handlers, cmd)
		return
	}
	s.handlers[cmd] = fn
}

// SetDelay delays every response to cmd by d. Zero removes the delay.
func (s *Server) SetDelay(cmd types.Command, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[cmd] = d
}

// DropNext discards the next n responses to cmd.
func (s *Server) DropNext(cmd types.Command, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[cmd] += n
}

// TamperNext corrupts the signature of the next n signed responses to cmd.
func (s *Server) TamperNext(cmd types.Command, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tampers[cmd] += n
}

// FailNext answers the next request for cmd with status.
func (s *Server) FailNext(cmd types.Command, status types.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[cmd] = append(s.failures[cmd], status)
}

// CloseConnections drops every open connection. The listener keeps
// accepting.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.nc.Close()
	}
}

// SendOplockBreak pushes an oplock break for fid on every connection.
func (s *Server) SendOplockBreak(tid, fid uint16) error {
	frame, err := oplockBreak(tid, fid)
	if err != nil {
		return err
	}
	return s.SendRaw(frame)
}

// SendRaw writes frame, prefix included, on every connection.
func (s *Server) SendRaw(frame []byte) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Statistics
// =============================================================================

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SignatureFailures returns the number of requests whose signature did not
// verify.
func (s *Server) SignatureFailures() int {
	return int(s.signatureFailures.Load())
}

// Requests returns the number of requests received for cmd.
func (s *Server) Requests(cmd types.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[cmd]
}

// Sessions returns the number of logged-on sessions across connections.
func (s *Server) Sessions() int {
	n := 0
	s.each(func(c *conn) { n += c.sessionCount() })
	return n
}

// Trees returns the number of connected trees across connections.
func (s *Server) Trees() int {
	n := 0
	s.each(func(c *conn) { n += c.treeCount() })
	return n
}

func (s *Server) each(fn func(c *conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		fn(c)
	}
}

// =============================================================================
// Request policy
// =============================================================================

// intercept records a request and returns the faults that apply to it.
func (s *Server) intercept(cmd types.Command) (fn HandlerFunc, delay time.Duration, status types.Status, forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[cmd]++
	if q := s.failures[cmd]; len(q) > 0 {
		status, forced = q[0], true
		s.failures[cmd] = q[1:]
	}
	return s.handlers[cmd], s.delays[cmd], status, forced
}

func (s *Server) takeDrop(cmd types.Command) bool {
	return take(&s.mu, s.drops, cmd)
}

func (s *Server) takeTamper(cmd types.Command) bool {
	return take(&s.mu, s.tampers, cmd)
}

func take(mu *sync.Mutex, m map[types.Command]int, cmd types.Command) bool {
	mu.Lock()
	defer mu.Unlock()
	if m[cmd] == 0 {
		return false
	}
	m[cmd]--
	return true
}

func (s *Server) lookupUser(name string) (User, bool) {
	for _, u := range s.opts.Users {
		if strings.EqualFold(u.Username, name) {
			return u, true
		}
	}
	return User{}, false
}

func (s *Server) lookupShare(name string) (Share, bool) {
	for _, sh := range s.opts.Shares {
		if strings.EqualFold(sh.Name, name) {
			return sh, true
		}
	}
	return Share{}, false
}

func (s *Server) allocUID() uint16 {
	return uint16(s.nextUID.Add(1))
}
