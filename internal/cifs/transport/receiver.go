package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/pkg/bufpool"
)

// receive reads frames from one socket generation until it fails.
func (c *Conn) receive(nc net.Conn, gen uint64) {
	defer c.wg.Done()

	for {
		frame, err := header.ReadFrame(nc, c.cfg.MaxFrameSize, bufpool.Get)
		if err != nil {
			if errors.Is(err, header.ErrFrameTooLarge) {
				c.failOversized(frame, err)
				continue
			}
			c.lost(gen, err)
			return
		}

		c.dispatch(frame)
		bufpool.Put(frame)
	}
}

func (c *Conn) failOversized(head []byte, err error) {
	if mid, ok := header.PeekMID(head); ok && c.mux.fail(mid, err) {
		return
	}
	args := []any{logger.KeyServer, c.cfg.Address, logger.KeyError, err}
	if cmd, ok := header.PeekCommand(head); ok {
		args = append(args, logger.KeyCommand, cmd.String())
	}
	logger.Warn("discarding oversized frame", args...)
}

// dispatch decodes one frame and hands it to its waiter. Decode copies the
// frame, so the caller may recycle it afterwards.
func (c *Conn) dispatch(frame []byte) {
	msg, err := header.Decode(frame, c.cfg.MaxFrameSize)
	if err != nil {
		if mid, ok := header.PeekMID(frame); ok && c.mux.fail(mid, err) {
			return
		}
		args := []any{logger.KeyServer, c.cfg.Address, logger.KeyError, err}
		if cmd, ok := header.PeekCommand(frame); ok {
			args = append(args, logger.KeyCommand, cmd.String())
		}
		logger.Debug("discarding malformed frame", args...)
		return
	}

	if !msg.IsReply() {
		c.notify(msg)
		return
	}

	if !c.mux.deliver(msg) {
		logger.Debug("discarding response with no waiter",
			logger.KeyServer, c.cfg.Address,
			logger.KeyCommand, msg.Command.String(),
			logger.KeyMID, msg.MID)
	}
}

// notify routes a server-initiated message. Only oplock breaks are
// recognised.
func (c *Conn) notify(msg *header.Message) {
	if msg.Command == types.CommandLockingAndX && msg.MID == types.MIDOplockBreak && c.cfg.OnNotification != nil {
		c.cfg.OnNotification(c, msg)
		return
	}
	logger.Debug("discarding unsolicited message",
		logger.KeyServer, c.cfg.Address,
		logger.KeyCommand, msg.Command.String(),
		logger.KeyMID, msg.MID)
}

// lost handles the failure of socket generation gen. Stale generations are
// ignored. Every pending request fails with types.ErrConnectionLost and, unless
// the Conn is closing, OnDisconnect runs and the Conn moves to
// StateReconnecting. No redial starts before the hook has returned.
func (c *Conn) lost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.nc == nil {
		c.mu.Unlock()
		return
	}
	nc := c.nc
	c.nc = nil
	closing := c.closed
	c.mu.Unlock()

	_ = nc.Close()
	c.signer.Reset()
	n := c.mux.failAll(fmt.Errorf("%w: %w", types.ErrConnectionLost, cause))

	if closing {
		return
	}

	logger.Warn("connection lost",
		logger.KeyServer, c.cfg.Address,
		logger.KeyConnID, c.id,
		logger.KeyPending, n,
		logger.KeyError, cause)

	if h := c.cfg.OnDisconnect; h != nil {
		h(c, cause)
	}

	c.mu.Lock()
	if !c.closed {
		c.state.Store(int32(StateReconnecting))
	}
	c.mu.Unlock()
}

// Drop discards the current socket as if it had failed with cause. The
// next SendAndWait reconnects.
func (c *Conn) Drop(cause error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.lost(gen, cause)
}
