package transport

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/types"
	"github.com/marmos91/cifscore/internal/logger"
)

// PingFunc performs one liveness probe over c, typically an SMB ECHO.
type PingFunc func(ctx context.Context, c *Conn) error

// StartKeepalive probes the connection every interval while it is in
// StateGood. A probe that times out drops the socket; the next SendAndWait
// reconnects. The loop stops when the Conn is closed. A non-positive
// interval disables it.
func (c *Conn) StartKeepalive(interval time.Duration, ping PingFunc) {
	if interval <= 0 || ping == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.lifetime.Done():
				return
			case <-ticker.C:
			}

			if c.State() != StateGood {
				continue
			}

			ctx, cancel := context.WithTimeout(c.lifetime, interval)
			err := ping(ctx, c)
			cancel()

			switch {
			case err == nil:
			case errors.Is(err, types.ErrTimeout), errors.Is(err, types.ErrInterrupted) && c.lifetime.Err() == nil:
				logger.Warn("keepalive probe timed out",
					logger.KeyServer, c.cfg.Address,
					logger.KeyError, err)
				c.Drop(err)
			default:
				logger.Debug("keepalive probe failed",
					logger.KeyServer, c.cfg.Address,
					logger.KeyError, err)
			}
		}
	}()
}
