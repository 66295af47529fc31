package transport

import (
	"context"
	"net"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// Default values applied by Config.applyDefaults.
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxFrameSize   = 128*1024 + header.HeaderSize + header.MaxSlack
	DefaultMaxMpx         = 50

	DefaultReconnectAttempts = 8
	DefaultReconnectMin      = 500 * time.Millisecond
	DefaultReconnectMax      = 10 * time.Second
	DefaultReconnectFactor   = 1.25
)

// DialFunc opens the stream socket to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ReconnectHandler runs after a successful redial, with the Conn in
// StateNegotiating. It must renegotiate (see MarkGood) and re-establish
// whatever sessions and trees depended on the lost socket, using RoundTrip.
// An error wrapping types.ErrNegotiationFailed ends reconnection for good;
// any other error drops the new socket and the next attempt is made.
type ReconnectHandler func(ctx context.Context, c *Conn) error

// NotificationHandler receives server-initiated messages that are not
// replies, such as oplock breaks. It runs on the receiver goroutine and must
// not block on responses from the same Conn.
type NotificationHandler func(c *Conn, msg *header.Message)

// ReconnectConfig bounds the redial loop.
type ReconnectConfig struct {
	// MaxAttempts is the number of dials per reconnect cycle.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the sleep between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Factor is the exponential growth of the backoff.
	Factor float64
}

// Config configures a Conn.
type Config struct {
	// Address is the server host:port.
	Address string

	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration

	// RequestTimeout applies when RoundTrip is given a zero timeout.
	RequestTimeout time.Duration

	// QuarantineTTL is how long an abandoned MID stays out of circulation
	// waiting for its late response. Defaults to twice RequestTimeout.
	QuarantineTTL time.Duration

	// MaxFrameSize is the largest message accepted from the server.
	MaxFrameSize int

	// MaxMpx bounds requests in flight until SetMaxMpx installs the value
	// negotiated with the server.
	MaxMpx int

	Reconnect ReconnectConfig

	// Dial overrides net.Dialer.DialContext.
	Dial DialFunc

	OnReconnect    ReconnectHandler
	OnDisconnect   func(c *Conn, err error)
	OnNotification NotificationHandler

	// Metrics is optional; nil disables collection.
	Metrics metrics.CIFSMetrics
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.QuarantineTTL <= 0 {
		c.QuarantineTTL = 2 * c.RequestTimeout
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > header.MaxFrameSize {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.MaxMpx <= 0 {
		c.MaxMpx = DefaultMaxMpx
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectAttempts
	}
	if c.Reconnect.MinBackoff <= 0 {
		c.Reconnect.MinBackoff = DefaultReconnectMin
	}
	if c.Reconnect.MaxBackoff < c.Reconnect.MinBackoff {
		c.Reconnect.MaxBackoff = max(DefaultReconnectMax, c.Reconnect.MinBackoff)
	}
	if c.Reconnect.Factor <= 1 {
		c.Reconnect.Factor = DefaultReconnectFactor
	}
	if c.Dial == nil {
		d := &net.Dialer{KeepAlive: 30 * time.Second}
		c.Dial = d.DialContext
	}
}
