package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/signing"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// Request is one SMB request submitted through a Conn. The MID is assigned
// by the Conn.
type Request struct {
	Command types.Command
	Flags   types.Flags
	Flags2  types.Flags2
	TID     uint16
	UID     uint16
	PID     uint32
	Params  []byte
	Data    []byte
}

// Conn is the client side of one TCP connection to a CIFS server. It is
// shared by every session established with that server.
type Conn struct {
	cfg Config
	id  string

	state        atomic.Int32
	reconnecting atomic.Bool

	// mu guards the socket, its generation and closed. Lock order is
	// writeMu before mu.
	mu     sync.Mutex
	nc     net.Conn
	gen    uint64
	closed bool
	wg     sync.WaitGroup

	// writeMu serialises signing and socket writes so that sequence
	// numbers follow wire order.
	writeMu sync.Mutex
	signer  *signing.Signer

	mux *mux
	sem atomic.Pointer[semaphore.Weighted]

	reconnects singleflight.Group

	lifetime context.Context
	cancel   context.CancelFunc
}

// Dial connects to cfg.Address and starts the receiver. The returned Conn is
// in StateNegotiating; the caller negotiates over RoundTrip and then calls
// MarkGood.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg.applyDefaults()

	c := &Conn{
		cfg:    cfg,
		id:     uuid.NewString(),
		signer: signing.NewSigner(),
		mux:    newMux(cfg.QuarantineTTL),
	}
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	c.sem.Store(semaphore.NewWeighted(int64(cfg.MaxMpx)))

	nc, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	if _, ok := c.attach(nc); !ok {
		_ = nc.Close()
		c.cancel()
		return nil, fmt.Errorf("%w: connection closed", types.ErrConnectionLost)
	}

	logger.Debug("connection established",
		logger.KeyServer, cfg.Address,
		logger.KeyConnID, c.id)
	return c, nil
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	nc, err := c.cfg.Dial(dctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", types.ErrConnectionLost, c.cfg.Address, err)
	}
	return nc, nil
}

// attach installs nc as the current socket and starts its receiver.
func (c *Conn) attach(nc net.Conn) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, false
	}
	c.gen++
	c.nc = nc
	c.state.Store(int32(StateNegotiating))

	c.wg.Add(1)
	go c.receive(nc, c.gen)
	return c.gen, true
}

// ID returns a unique identifier for this Conn, used in logs and status.
func (c *Conn) ID() string { return c.id }

// Addr returns the server address.
func (c *Conn) Addr() string { return c.cfg.Address }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Signer returns the per-connection signer. Sessions activate it once
// signing has been negotiated and a session key is known.
func (c *Conn) Signer() *signing.Signer { return c.signer }

// Pending returns the number of requests awaiting a response.
func (c *Conn) Pending() int { return c.mux.len() }

// MarkGood records that negotiation completed on the current socket.
func (c *Conn) MarkGood() {
	c.state.CompareAndSwap(int32(StateNegotiating), int32(StateGood))
}

// SetMaxMpx bounds the number of requests in flight to the value negotiated
// with the server. Requests already holding a slot are unaffected.
func (c *Conn) SetMaxMpx(n int) {
	if n <= 0 {
		n = 1
	}
	c.sem.Store(semaphore.NewWeighted(int64(n)))
}

// SendAndWait sends req and waits for its response, first re-establishing
// the connection if it was lost. A zero timeout uses the configured default.
func (c *Conn) SendAndWait(ctx context.Context, req *Request, timeout time.Duration) (*header.Message, error) {
	if err := c.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return c.RoundTrip(ctx, req, timeout)
}

// RoundTrip sends req and waits for its response without attempting to
// reconnect. Session establishment uses it directly.
//
// The response command must match the request. When signing was active for
// the request, the response signature is verified before it is returned.
// The response status is not interpreted.
func (c *Conn) RoundTrip(ctx context.Context, req *Request, timeout time.Duration) (*header.Message, error) {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	ctx, span := telemetry.StartRequestSpan(ctx, req.Command.String(),
		telemetry.ServerAddr(c.cfg.Address),
		telemetry.SMBUID(req.UID),
		telemetry.SMBTreeID(req.TID),
	)
	defer span.End()

	start := time.Now()
	msg, err := c.roundTrip(ctx, req, timeout)
	metrics.ObserveRequest(c.cfg.Metrics, req.Command.String(), outcome(msg, err), time.Since(start))

	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(
		telemetry.SMBMessageID(msg.MID),
		telemetry.SMBStatus(uint32(msg.Status)),
	)
	return msg, nil
}

func (c *Conn) roundTrip(ctx context.Context, req *Request, timeout time.Duration) (*header.Message, error) {
	sem := c.sem.Load()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for a request slot: %w", types.ErrInterrupted, err)
	}
	defer sem.Release(1)

	p, err := c.mux.register(req.Command)
	if err != nil {
		return nil, err
	}
	mid := p.mid

	metrics.AddInFlight(c.cfg.Metrics, 1)
	defer metrics.AddInFlight(c.cfg.Metrics, -1)

	if err := c.submit(req, p); err != nil {
		c.mux.abandon(p, false)
		releasePendingRequest(p)
		return nil, err
	}

	timer := acquireTimer(timeout)
	defer releaseTimer(timer)

	var res result
	select {
	case res = <-p.done:
	case <-timer.C:
		if c.mux.abandon(p, true) {
			releasePendingRequest(p)
			logger.Debug("request timed out",
				logger.KeyServer, c.cfg.Address,
				logger.KeyCommand, req.Command.String(),
				logger.KeyMID, mid)
			return nil, fmt.Errorf("%w: %s (mid %d) after %s", types.ErrTimeout, req.Command, mid, timeout)
		}
		res = <-p.done
	case <-ctx.Done():
		if c.mux.abandon(p, true) {
			releasePendingRequest(p)
			return nil, fmt.Errorf("%w: %s (mid %d): %w", types.ErrInterrupted, req.Command, mid, ctx.Err())
		}
		res = <-p.done
	}

	signed, respSeq := p.signed, p.respSeq
	releasePendingRequest(p)

	if res.err != nil {
		return nil, res.err
	}
	return c.check(req, res.msg, signed, respSeq)
}

// submit encodes req under p's MID and writes it.
func (c *Conn) submit(req *Request, p *pendingRequest) error {
	m := &header.Message{
		Header: header.Header{
			Command: req.Command,
			Flags:   req.Flags,
			Flags2:  req.Flags2,
			TID:     req.TID,
			UID:     req.UID,
			MID:     p.mid,
		},
		Params: req.Params,
		Data:   req.Data,
	}
	m.SetPID(req.PID)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	frame, err := header.AppendFrame(buf.B[:0], m)
	if err != nil {
		return err
	}
	buf.B = frame

	return c.write(frame, p)
}

// Post writes an already framed message (prefix included) without waiting
// for a response, signing it when signing is active.
func (c *Conn) Post(frame []byte) error {
	if len(frame) < header.PrefixSize+header.HeaderSize {
		return fmt.Errorf("%w: %w: frame of %d bytes", types.ErrSendFailed, types.ErrMalformedFrame, len(frame))
	}
	return c.write(frame, nil)
}

func (c *Conn) write(frame []byte, p *pendingRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	nc, gen := c.nc, c.gen
	state := c.State()
	c.mu.Unlock()

	if nc == nil || !state.sendable() {
		return fmt.Errorf("%w: connection is %s", types.ErrSendFailed, state)
	}

	if seq, ok := c.signer.Sign(frame[header.PrefixSize:]); ok && p != nil {
		p.respSeq = seq
		p.signed = true
	}
	if p != nil {
		c.mux.markSubmitted(p)
	}

	if _, err := nc.Write(frame); err != nil {
		c.lost(gen, err)
		return fmt.Errorf("%w: %w", types.ErrSendFailed, err)
	}
	return nil
}

// check validates a response against the request that produced it.
func (c *Conn) check(req *Request, msg *header.Message, signed bool, respSeq uint32) (*header.Message, error) {
	if msg.Command != req.Command {
		return nil, fmt.Errorf("%w: %s response to %s request (mid %d)", types.ErrMalformedFrame, msg.Command, req.Command, msg.MID)
	}
	if signed && verifiable(msg.Command) {
		if err := c.signer.Verify(msg.Raw, respSeq); err != nil {
			metrics.RecordSignatureFailure(c.cfg.Metrics)
			logger.Warn("response signature mismatch",
				logger.KeyServer, c.cfg.Address,
				logger.KeyCommand, msg.Command.String(),
				logger.KeyMID, msg.MID)
			return nil, err
		}
	}
	return msg, nil
}

// verifiable reports whether responses to cmd carry a checkable signature.
// Only NEGOTIATE precedes every key. A SESSION_SETUP_ANDX response is
// checked once signing is active on the connection; the exchange that
// activates it is sent unsigned.
func verifiable(cmd types.Command) bool {
	return cmd != types.CommandNegotiate
}

// Close tears the connection down, fails pending requests with
// types.ErrConnectionLost and waits for the Conn's goroutines to exit. It
// must not be called from an OnDisconnect or OnNotification hook.
func (c *Conn) Close() error {
	c.terminate()
	c.wg.Wait()
	return nil
}

// terminate moves the Conn to StateExiting without waiting for goroutines.
func (c *Conn) terminate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Store(int32(StateExiting))
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()

	c.cancel()
	if nc != nil {
		_ = nc.Close()
	}
	c.signer.Reset()
	c.mux.failAll(fmt.Errorf("%w: connection closed", types.ErrConnectionLost))

	logger.Debug("connection closed",
		logger.KeyServer, c.cfg.Address,
		logger.KeyConnID, c.id)
}

func outcome(msg *header.Message, err error) string {
	switch {
	case err == nil && msg.Status.IsSuccess():
		return "ok"
	case err == nil:
		return msg.Status.String()
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	case errors.Is(err, types.ErrInterrupted):
		return "interrupted"
	case errors.Is(err, types.ErrConnectionLost):
		return "lost"
	case errors.Is(err, types.ErrSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, types.ErrSendFailed):
		return "send_failed"
	case errors.Is(err, types.ErrBusy):
		return "busy"
	default:
		return "malformed"
	}
}
