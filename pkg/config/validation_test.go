package config

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/cifscore/pkg/cifs"
)

func validMount(name string) MountConfig {
	return MountConfig{
		Name:        name,
		Endpoint:    cifs.Endpoint{Address: "fileserver:445"},
		Share:       "data",
		Credentials: cifs.Credentials{Username: "alice", Password: "secret", Method: "auto"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mounts = []MountConfig{validMount("data")}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidSigning(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Client.Signing = "sometimes"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown signing mode")
	}
}

func TestValidate_FrameSizeAboveLengthField(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Client.MaxFrameSize = 1 << 24

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for max_frame_size over 24 bits")
	}
	if !strings.Contains(err.Error(), "lte") {
		t.Errorf("Expected 'lte' validation error, got: %v", err)
	}
}

func TestValidate_BackoffOrder(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Client.Reconnect.MinBackoff = 10 * time.Second
	cfg.Client.Reconnect.MaxBackoff = time.Second

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error when max_backoff < min_backoff")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_Mounts(t *testing.T) {
	t.Run("MissingEndpoint", func(t *testing.T) {
		cfg := GetDefaultConfig()
		m := validMount("data")
		m.Endpoint.Address = ""
		cfg.Mounts = []MountConfig{m}

		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for missing endpoint address")
		}
	})

	t.Run("ShareWithSeparator", func(t *testing.T) {
		cfg := GetDefaultConfig()
		m := validMount("data")
		m.Share = `data\sub`
		cfg.Mounts = []MountConfig{m}

		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for share containing a separator")
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		cfg := GetDefaultConfig()
		m := validMount("data")
		m.Credentials.Method = "kerberos"
		cfg.Mounts = []MountConfig{m}

		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for unknown auth method")
		}
	})

	t.Run("DuplicateNames", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Mounts = []MountConfig{validMount("data"), validMount("DATA")}

		err := Validate(cfg)
		if err == nil {
			t.Fatal("Expected validation error for duplicate mount names")
		}
		if !strings.Contains(err.Error(), "duplicate") {
			t.Errorf("Expected duplicate error, got: %v", err)
		}
	})
}
