package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpillora/backoff"

	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// EnsureConnected returns once the Conn is usable, redialing it if the
// socket was lost. Concurrent callers share one reconnect cycle. The cycle
// itself is bound to the Conn's lifetime, not to ctx: a caller that gives
// up leaves it running for the others.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	state := c.State()
	if state == StateExiting {
		return fmt.Errorf("%w: connection to %s is closed", types.ErrConnectionLost, c.cfg.Address)
	}
	if state.sendable() && !c.reconnecting.Load() {
		return nil
	}

	ch := c.reconnects.DoChan("reconnect", func() (any, error) {
		return nil, c.reconnect()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for reconnect: %w", types.ErrInterrupted, ctx.Err())
	}
}

// reconnect runs one bounded redial cycle. On exhaustion the Conn is
// terminated.
func (c *Conn) reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection to %s is closed", types.ErrConnectionLost, c.cfg.Address)
	}
	if c.State() != StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting.Store(true)
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	ctx := c.lifetime
	rc := c.cfg.Reconnect
	b := &backoff.Backoff{
		Factor: rc.Factor,
		Jitter: true,
		Min:    rc.MinBackoff,
		Max:    rc.MaxBackoff,
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		err := c.redial(ctx, attempt)
		if err == nil {
			metrics.RecordReconnect(c.cfg.Metrics, true)
			logger.Info("reconnected",
				logger.KeyServer, c.cfg.Address,
				logger.KeyConnID, c.id,
				logger.KeyAttempt, attempt)
			return nil
		}
		lastErr = err
		if errors.Is(err, types.ErrNegotiationFailed) || ctx.Err() != nil {
			break
		}
		if attempt == rc.MaxAttempts {
			break
		}

		d := b.Duration()
		logger.Warn("reconnect attempt failed",
			logger.KeyServer, c.cfg.Address,
			logger.KeyAttempt, attempt,
			logger.KeyBackoff, d,
			logger.KeyError, err)

		timer := acquireTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		releaseTimer(timer)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordReconnect(c.cfg.Metrics, false)
	logger.Error("giving up on connection",
		logger.KeyServer, c.cfg.Address,
		logger.KeyConnID, c.id,
		logger.KeyError, lastErr)
	c.terminate()
	return fmt.Errorf("%w: reconnect to %s abandoned: %w", types.ErrConnectionLost, c.cfg.Address, lastErr)
}

// redial performs one attempt: dial, attach, then run the ReconnectHandler.
func (c *Conn) redial(ctx context.Context, attempt int) error {
	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanReconnect,
		telemetry.ServerAddr(c.cfg.Address),
		telemetry.Attempt(attempt),
	)
	defer span.End()

	nc, err := c.dial(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	gen, ok := c.attach(nc)
	if !ok {
		_ = nc.Close()
		return fmt.Errorf("%w: connection closed during reconnect", types.ErrConnectionLost)
	}

	if h := c.cfg.OnReconnect; h != nil {
		if err := h(ctx, c); err != nil {
			telemetry.RecordError(ctx, err)
			c.lost(gen, err)
			return err
		}
	}
	c.MarkGood()
	return nil
}
