package cifs

import (
	"net"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/session"
	"github.com/marmos91/cifscore/internal/cifs/signing"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// DefaultPort is used when an Endpoint address carries no port.
const DefaultPort = "445"

// Signing modes accepted by Options.Signing.
const (
	SigningDisabled = "disabled"
	SigningEnabled  = "enabled"
	SigningRequired = "required"
)

// Endpoint identifies a CIFS server.
type Endpoint struct {
	// Address is host or host:port.
	Address string `mapstructure:"address" validate:"required" yaml:"address" json:"address"`
}

// HostPort returns the address with the default port applied.
func (e Endpoint) HostPort() string {
	if _, _, err := net.SplitHostPort(e.Address); err == nil {
		return e.Address
	}
	return net.JoinHostPort(e.Address, DefaultPort)
}

// Credentials identify the principal a tree is bound as. An empty username
// and password request an anonymous session.
type Credentials struct {
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Domain   string `mapstructure:"domain" yaml:"domain" json:"domain"`

	// Method is auto, lanman, ntlm, ntlmv2 or ntlmssp. Empty means auto.
	Method string `mapstructure:"method" validate:"omitempty,oneof=auto lanman ntlm ntlmv2 ntlmssp" yaml:"method" json:"method"`

	// Variant selects the NTLMSSP response: ntlmv2 (default) or ntlm2.
	Variant string `mapstructure:"variant" validate:"omitempty,oneof=ntlmv2 ntlm2" yaml:"variant" json:"variant"`

	// SharePassword is sent on tree connect to servers running share-level
	// security.
	SharePassword string `mapstructure:"share_password" yaml:"share_password" json:"-"`
}

func (c Credentials) session() session.Credentials {
	return session.Credentials{
		Username: c.Username,
		Password: c.Password,
		Domain:   c.Domain,
		Method:   c.Method,
		Variant:  ntlm.Variant(c.Variant),
	}
}

// ReconnectOptions bounds the redial loop that follows a lost connection.
type ReconnectOptions struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0" yaml:"max_attempts" json:"max_attempts"`
	MinBackoff  time.Duration `mapstructure:"min_backoff" validate:"gte=0" yaml:"min_backoff" json:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"gte=0" yaml:"max_backoff" json:"max_backoff"`
}

// OplockBreak is a server request to release an opportunistic lock.
type OplockBreak struct {
	Server string
	TID    uint16
	FID    uint16
	Level  uint8
}

// Options configures a Registry. Zero values select defaults.
type Options struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gte=0" yaml:"dial_timeout" json:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0" yaml:"request_timeout" json:"request_timeout"`

	// MaxFrameSize is the largest response accepted from a server.
	MaxFrameSize int `mapstructure:"max_frame_size" validate:"gte=0" yaml:"max_frame_size" json:"max_frame_size"`

	// MaxMpx bounds requests in flight before negotiation.
	MaxMpx int `mapstructure:"max_mpx" validate:"gte=0" yaml:"max_mpx" json:"max_mpx"`

	Reconnect ReconnectOptions `mapstructure:"reconnect" yaml:"reconnect" json:"reconnect"`

	// KeepaliveInterval enables an ECHO probe on idle connections.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"gte=0" yaml:"keepalive_interval" json:"keepalive_interval"`

	// Signing is disabled, enabled (sign when the server requires it) or
	// required.
	Signing string `mapstructure:"signing" validate:"omitempty,oneof=disabled enabled required" yaml:"signing" json:"signing"`

	Workstation  string `mapstructure:"workstation" yaml:"workstation" json:"workstation"`
	NativeOS     string `mapstructure:"native_os" yaml:"native_os" json:"native_os"`
	NativeLanMan string `mapstructure:"native_lanman" yaml:"native_lanman" json:"native_lanman"`

	// Metrics is optional; nil disables collection.
	Metrics metrics.CIFSMetrics `mapstructure:"-" yaml:"-" json:"-"`

	// OnOplockBreak receives oplock breaks. It runs on the connection's
	// receiver goroutine and must not wait for responses.
	OnOplockBreak func(OplockBreak) `mapstructure:"-" yaml:"-" json:"-"`

	// Dial overrides the TCP dialer.
	Dial transport.DialFunc `mapstructure:"-" yaml:"-" json:"-"`
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = transport.DefaultRequestTimeout
	}
	if o.Signing == "" {
		o.Signing = SigningEnabled
	}
}

func (o *Options) signing() signing.Config {
	switch o.Signing {
	case SigningDisabled:
		return signing.Config{}
	case SigningRequired:
		return signing.Config{Enabled: true, Required: true}
	default:
		return signing.DefaultConfig()
	}
}

func (o *Options) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Signing = o.signing()
	cfg.Workstation = o.Workstation
	if o.NativeOS != "" {
		cfg.NativeOS = o.NativeOS
	}
	if o.NativeLanMan != "" {
		cfg.NativeLanMan = o.NativeLanMan
	}
	cfg.Timeout = o.RequestTimeout
	return cfg
}

func (o *Options) transportConfig(addr string) transport.Config {
	return transport.Config{
		Address:        addr,
		DialTimeout:    o.DialTimeout,
		RequestTimeout: o.RequestTimeout,
		MaxFrameSize:   o.MaxFrameSize,
		MaxMpx:         o.MaxMpx,
		Reconnect: transport.ReconnectConfig{
			MaxAttempts: o.Reconnect.MaxAttempts,
			MinBackoff:  o.Reconnect.MinBackoff,
			MaxBackoff:  o.Reconnect.MaxBackoff,
		},
		Dial:    o.Dial,
		Metrics: o.Metrics,
	}
}
