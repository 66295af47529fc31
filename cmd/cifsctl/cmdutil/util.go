// Package cmdutil provides shared utilities for cifsctl commands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/cifscore/internal/cli/output"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/telemetry"
	"github.com/marmos91/cifscore/pkg/config"
	"github.com/marmos91/cifscore/pkg/metrics"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	NoColor    bool
	Verbose    bool
}

// Version is set by the root command from build-time variables.
var Version = "dev"

// LoadConfig loads the configuration named by --config. --verbose forces
// debug logging.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(Flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if Flags.Verbose {
		cfg.Logging.Level = "DEBUG"
	}
	return cfg, nil
}

// ConfigSource describes where the configuration came from.
func ConfigSource() string {
	if Flags.ConfigFile != "" {
		return Flags.ConfigFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// InitRuntime sets up logging, tracing, profiling and the metrics registry
// from cfg. The returned function flushes and stops them.
func InitRuntime(ctx context.Context, cfg *config.Config) (func(), error) {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cifsctl",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "cifsctl",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	logger.Debug("runtime initialized",
		"config", ConfigSource(),
		"telemetry", telemetry.IsEnabled(),
		"profiling", telemetry.IsProfilingEnabled(),
		"metrics", metrics.IsEnabled())

	return func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
		if err := telemetryShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}, nil
}

// GetOutputFormatParsed returns the parsed --output value.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// NewPrinter returns a printer honoring --output and --no-color.
func NewPrinter(w io.Writer) (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	p := output.NewPrinter(w, format)
	if Flags.NoColor {
		p.NoColor()
	}
	return p, nil
}

// ErrCanceled is returned when the user aborts an interactive prompt.
var ErrCanceled = errors.New("operation canceled")
