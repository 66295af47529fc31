package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/cifscore/internal/bytesize"
	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides, for example
// CIFSCTL_LOGGING_LEVEL=DEBUG or CIFSCTL_CLIENT_SIGNING=required.
const EnvPrefix = "CIFSCTL"

// Config is the cifsctl configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (CIFSCTL_*)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Client tunes every connection the registry opens.
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Mounts are named shares that commands can refer to instead of spelling
	// out server, share and credentials.
	Mounts []MountConfig `mapstructure:"mounts" validate:"dive" yaml:"mounts,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing of bind, session setup,
// tree connect and request round trips.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is between 0.0 and 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus collection and the HTTP endpoint that
// `cifsctl bind --hold` serves.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /status.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ClientConfig mirrors cifs.Options for the fields that make sense in a file.
type ClientConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gte=0" yaml:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0" yaml:"request_timeout"`

	// MaxFrameSize accepts human-readable sizes such as "132KiB". The SMB
	// length field caps it at 16MiB minus one byte.
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" validate:"lte=16777215" yaml:"max_frame_size"`

	MaxMpx int `mapstructure:"max_mpx" validate:"gte=0,lte=65535" yaml:"max_mpx"`

	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`

	// KeepaliveInterval is the idle period after which an ECHO probe is sent.
	// Zero disables the probe.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"gte=0" yaml:"keepalive_interval"`

	// Signing is disabled, enabled or required.
	Signing string `mapstructure:"signing" validate:"required,oneof=disabled enabled required" yaml:"signing"`

	Workstation  string `mapstructure:"workstation" yaml:"workstation,omitempty"`
	NativeOS     string `mapstructure:"native_os" yaml:"native_os,omitempty"`
	NativeLanMan string `mapstructure:"native_lanman" yaml:"native_lanman,omitempty"`
}

// ReconnectConfig bounds the redial loop after a lost connection.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0" yaml:"max_attempts"`
	MinBackoff  time.Duration `mapstructure:"min_backoff" validate:"gte=0" yaml:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"gte=0,gtefield=MinBackoff" yaml:"max_backoff"`
}

// MountConfig names a share together with the credentials used to bind it.
type MountConfig struct {
	Name string `mapstructure:"name" validate:"required,excludesall=\\/ " yaml:"name"`

	Endpoint cifs.Endpoint `mapstructure:"endpoint" yaml:"endpoint"`

	// Share is the share name, without the server part.
	Share string `mapstructure:"share" validate:"required,excludesall=\\/" yaml:"share"`

	Credentials cifs.Credentials `mapstructure:"credentials" yaml:"credentials"`
}

// Options converts the client section into registry options.
func (c ClientConfig) Options() cifs.Options {
	return cifs.Options{
		DialTimeout:    c.DialTimeout,
		RequestTimeout: c.RequestTimeout,
		MaxFrameSize:   c.MaxFrameSize.Int(),
		MaxMpx:         c.MaxMpx,
		Reconnect: cifs.ReconnectOptions{
			MaxAttempts: c.Reconnect.MaxAttempts,
			MinBackoff:  c.Reconnect.MinBackoff,
			MaxBackoff:  c.Reconnect.MaxBackoff,
		},
		KeepaliveInterval: c.KeepaliveInterval,
		Signing:           c.Signing,
		Workstation:       c.Workstation,
		NativeOS:          c.NativeOS,
		NativeLanMan:      c.NativeLanMan,
	}
}

// ErrMountNotFound is returned by Mount for unknown names.
var ErrMountNotFound = errors.New("mount not found")

// Mount looks up a mount by name.
func (c *Config) Mount(name string) (MountConfig, error) {
	for _, m := range c.Mounts {
		if m.Name == name {
			return m, nil
		}
	}
	return MountConfig{}, fmt.Errorf("%w: %s", ErrMountNotFound, name)
}

// Load reads configuration from configPath (or the default location when
// empty), the environment and defaults, then validates it. A missing file is
// not an error: the defaults are returned with environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg as YAML. The file is created 0600 since mounts may
// carry passwords.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers every leaf key with viper. AutomaticEnv alone only
// resolves keys that already exist in a file, so overrides would be lost
// when running without one.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvKeys(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reports whether a file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "132KiB" style strings and plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %d", v)
			}
			return bytesize.ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %d", v)
			}
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size %v", v)
			}
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cifsctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cifsctl")
}

// GetDefaultConfigPath returns $XDG_CONFIG_HOME/cifsctl/config.yaml.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
