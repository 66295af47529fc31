package config

import (
	"strings"
	"time"

	"github.com/marmos91/cifscore/internal/bytesize"
	"github.com/marmos91/cifscore/internal/cifs/transport"
	"github.com/marmos91/cifscore/pkg/cifs"
)

// DefaultKeepaliveInterval is applied when client.keepalive_interval is unset.
const DefaultKeepaliveInterval = 60 * time.Second

// ApplyDefaults fills zero-valued fields. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyClientDefaults(&cfg.Client)
	for i := range cfg.Mounts {
		applyMountDefaults(&cfg.Mounts[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9445
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = transport.DefaultDialTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = transport.DefaultRequestTimeout
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = bytesize.ByteSize(transport.DefaultMaxFrameSize)
	}
	if cfg.MaxMpx == 0 {
		cfg.MaxMpx = transport.DefaultMaxMpx
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = transport.DefaultReconnectAttempts
	}
	if cfg.Reconnect.MinBackoff == 0 {
		cfg.Reconnect.MinBackoff = transport.DefaultReconnectMin
	}
	if cfg.Reconnect.MaxBackoff == 0 {
		cfg.Reconnect.MaxBackoff = transport.DefaultReconnectMax
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Signing == "" {
		cfg.Signing = cifs.SigningEnabled
	}
	cfg.Signing = strings.ToLower(cfg.Signing)
}

func applyMountDefaults(m *MountConfig) {
	if m.Credentials.Method == "" {
		m.Credentials.Method = "auto"
	}
	m.Share = strings.Trim(m.Share, `\/`)
}

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
