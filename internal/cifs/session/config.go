package session

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/marmos91/cifscore/internal/cifs/ntlm"
	"github.com/marmos91/cifscore/internal/cifs/signing"
)

// DefaultMaxBufferSize is the largest message the client accepts, announced
// in SESSION_SETUP_ANDX.
const DefaultMaxBufferSize = 16644

// Config holds client-wide session parameters.
type Config struct {
	Signing signing.Config

	// MaxBufferSize is announced to the server in session setup.
	MaxBufferSize uint16

	// Workstation is the client NetBIOS name sent in NTLMSSP.
	Workstation string

	NativeOS     string
	NativeLanMan string

	// PID is placed in every request header.
	PID uint32

	// Timeout bounds each request; zero uses the connection default.
	Timeout time.Duration

	// Rand and Now are overridable for deterministic tests.
	Rand io.Reader
	Now  func() time.Time
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	cfg := Config{Signing: signing.DefaultConfig()}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.NativeOS == "" {
		c.NativeOS = runtime.GOOS
	}
	if c.NativeLanMan == "" {
		c.NativeLanMan = "cifscore"
	}
	if c.PID == 0 {
		c.PID = uint32(os.Getpid())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Credentials identify the principal a Session authenticates as.
type Credentials struct {
	Username string
	Password string
	Domain   string

	// Method selects the AuthMethod: auto, lanman, ntlm, ntlmv2 or ntlmssp.
	// Empty means auto.
	Method string

	// Variant selects the NTLMSSP response variant (ntlmv2 or ntlm2).
	Variant ntlm.Variant
}

// Anonymous reports whether the credentials request a null session.
func (c Credentials) Anonymous() bool {
	return c.Username == "" && c.Password == ""
}

// Key identifies the credentials within a connection, without the password.
func (c Credentials) Key() string {
	return c.Domain + `\` + c.Username
}
