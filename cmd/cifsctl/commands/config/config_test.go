package config

import (
	"testing"
	"time"

	"github.com/marmos91/cifscore/pkg/config"
)

func TestSampleConfigIsValid(t *testing.T) {
	if err := config.Validate(sampleConfig()); err != nil {
		t.Fatalf("sample configuration does not validate: %v", err)
	}
}

func TestRedact(t *testing.T) {
	cfg := sampleConfig()
	cfg.Mounts[0].Credentials.Password = "secret"
	cfg.Mounts[0].Credentials.SharePassword = "share"
	cfg.Mounts = append(cfg.Mounts, config.MountConfig{Name: "anon"})

	redact(cfg)

	if got := cfg.Mounts[0].Credentials.Password; got != masked {
		t.Errorf("expected masked password, got %q", got)
	}
	if got := cfg.Mounts[0].Credentials.SharePassword; got != masked {
		t.Errorf("expected masked share password, got %q", got)
	}
	if got := cfg.Mounts[1].Credentials.Password; got != "" {
		t.Errorf("expected empty password to stay empty, got %q", got)
	}
}

func TestWarnings(t *testing.T) {
	cfg := sampleConfig()
	if w := warnings(cfg); len(w) != 0 {
		t.Errorf("expected no warnings for the sample, got %v", w)
	}

	cfg.Client.Signing = "disabled"
	cfg.Client.KeepaliveInterval = time.Second
	cfg.Mounts[0].Credentials.Method = "lanman"
	cfg.Mounts[0].Credentials.Password = "pw"

	if w := warnings(cfg); len(w) != 4 {
		t.Errorf("expected 4 warnings, got %d: %v", len(w), w)
	}
}
