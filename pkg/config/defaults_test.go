package config

import (
	"testing"
	"time"

	"github.com/marmos91/cifscore/internal/bytesize"
	"github.com/marmos91/cifscore/internal/cifs/transport"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Client(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	c := cfg.Client
	if c.RequestTimeout != transport.DefaultRequestTimeout {
		t.Errorf("Expected request timeout %v, got %v", transport.DefaultRequestTimeout, c.RequestTimeout)
	}
	if c.MaxFrameSize != bytesize.ByteSize(transport.DefaultMaxFrameSize) {
		t.Errorf("Expected max frame size %d, got %d", transport.DefaultMaxFrameSize, c.MaxFrameSize)
	}
	if c.MaxMpx != transport.DefaultMaxMpx {
		t.Errorf("Expected max mpx %d, got %d", transport.DefaultMaxMpx, c.MaxMpx)
	}
	if c.Reconnect.MaxAttempts != transport.DefaultReconnectAttempts {
		t.Errorf("Expected %d reconnect attempts, got %d", transport.DefaultReconnectAttempts, c.Reconnect.MaxAttempts)
	}
	if c.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("Expected keepalive %v, got %v", DefaultKeepaliveInterval, c.KeepaliveInterval)
	}
	if c.Signing != "enabled" {
		t.Errorf("Expected signing 'enabled', got %q", c.Signing)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{Client: ClientConfig{
		RequestTimeout: 5 * time.Second,
		MaxMpx:         4,
		Signing:        "REQUIRED",
	}}
	ApplyDefaults(cfg)

	if cfg.Client.RequestTimeout != 5*time.Second {
		t.Errorf("Expected request timeout 5s, got %v", cfg.Client.RequestTimeout)
	}
	if cfg.Client.MaxMpx != 4 {
		t.Errorf("Expected max mpx 4, got %d", cfg.Client.MaxMpx)
	}
	if cfg.Client.Signing != "required" {
		t.Errorf("Expected signing lowercased to 'required', got %q", cfg.Client.Signing)
	}
}

func TestApplyDefaults_Mounts(t *testing.T) {
	cfg := &Config{Mounts: []MountConfig{{Name: "data", Share: `\data\`}}}
	ApplyDefaults(cfg)

	m := cfg.Mounts[0]
	if m.Share != "data" {
		t.Errorf("Expected separators trimmed from share, got %q", m.Share)
	}
	if m.Credentials.Method != "auto" {
		t.Errorf("Expected method 'auto', got %q", m.Credentials.Method)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected OTLP endpoint 'localhost:4317', got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		t.Error("Expected default profile types")
	}
	if cfg.Metrics.Port != 9445 {
		t.Errorf("Expected metrics port 9445, got %d", cfg.Metrics.Port)
	}
}
