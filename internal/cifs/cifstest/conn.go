package cifstest

import (
	"context"
	"crypto/rand"
	"net"
	"sync"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/signing"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
)

// conn is the server side of one client connection.
type conn struct {
	srv *Server
	nc  net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	// mu guards the fields below.
	mu        sync.Mutex
	challenge [8]byte
	signing   bool
	signKey   []byte
	seq       uint32
	sessions  map[uint16]*serverSession
	pending   map[uint16][8]byte
	trees     map[uint16]string
	nextTID   uint16
}

type serverSession struct {
	user  string
	guest bool
}

func newConn(s *Server, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &conn{
		srv:      s,
		nc:       nc,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uint16]*serverSession),
		pending:  make(map[uint16][8]byte),
		trees:    make(map[uint16]string),
		nextTID:  1,
	}
	_, _ = rand.Read(c.challenge[:])
	return c
}

// serve reads requests until the connection fails. Each request is handled
// in its own goroutine so that delayed responses do not block others.
func (c *conn) serve() {
	defer func() {
		c.cancel()
		_ = c.nc.Close()
		c.wg.Wait()
	}()

	for {
		frame, err := header.ReadFrame(c.nc, 0, func(n int) []byte { return make([]byte, n) })
		if err != nil {
			return
		}
		req, err := header.Decode(frame, 0)
		if err != nil {
			logger.Debug("cifstest: bad request", logger.KeyError, err)
			continue
		}
		if req.IsReply() {
			continue
		}

		// Sequence numbers follow arrival order, like the client's follow
		// wire order.
		seq, signed := c.nextSeq()
		if signed {
			c.verify(req, seq)
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handle(req, seq, signed)
		}()
	}
}

func (c *conn) nextSeq() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.signing {
		return 0, false
	}
	seq := c.seq
	c.seq += 2
	return seq, true
}

func (c *conn) verify(req *header.Message, seq uint32) {
	c.mu.Lock()
	key := c.signKey
	c.mu.Unlock()

	want := signing.Compute(key, req.Raw, seq)
	if want != req.Signature {
		c.srv.signatureFailures.Add(1)
		logger.Debug("cifstest: request signature mismatch",
			logger.KeyCommand, req.Command.String(),
			logger.KeyMID, req.MID)
	}
}

// activateSigning installs key unless signing is already active.
func (c *conn) activateSigning(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signing {
		return
	}
	c.signKey = append([]byte(nil), key...)
	c.seq = 2
	c.signing = true
}

func (c *conn) handle(req *header.Message, seq uint32, signed bool) {
	fn, delay, status, forced := c.srv.intercept(req.Command)

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return
		}
	}

	var resp *response
	switch {
	case forced:
		resp = c.errorReply(req, status)
	case fn != nil:
		r := fn(c.ctx, req)
		if r == nil {
			return
		}
		resp = c.reply(req, r.Status, r.Params, r.Data)
	default:
		resp = c.dispatch(req)
	}
	if resp == nil || c.srv.takeDrop(req.Command) {
		return
	}

	frame, err := header.Encode(&resp.Message)
	if err != nil {
		logger.Debug("cifstest: encode response", logger.KeyError, err)
		return
	}
	if signed {
		msg := frame[header.PrefixSize:]
		c.mu.Lock()
		key := c.signKey
		c.mu.Unlock()
		signing.SetSignatureFlag(msg)
		sig := signing.Compute(key, msg, seq+1)
		copy(msg[header.SignatureOffset:], sig[:])
		if c.srv.takeTamper(req.Command) {
			msg[header.SignatureOffset] ^= 0xFF
		}
	}
	_ = c.write(frame)
}

func (c *conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(frame)
	return err
}

func (c *conn) dispatch(req *header.Message) *response {
	switch req.Command {
	case types.CommandNegotiate:
		return c.negotiate(req)
	case types.CommandSessionSetup:
		return c.sessionSetup(req)
	case types.CommandTreeConnectAndX:
		return c.treeConnect(req)
	case types.CommandTreeDisconnect:
		return c.treeDisconnect(req)
	case types.CommandLogoffAndX:
		return c.logoff(req)
	case types.CommandEcho:
		return c.echo(req)
	default:
		return c.errorReply(req, types.StatusNotSupported)
	}
}

func (c *conn) sessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *conn) treeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trees)
}
