package config

import (
	"fmt"

	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check the configuration file for syntax errors, invalid values and
duplicate mount names.

Examples:
  cifsctl config validate
  cifsctl config validate --config /etc/cifsctl/config.yaml`,
	RunE: runValidate,
}

// warnings reports settings that are valid but probably unintended.
func warnings(cfg *config.Config) []string {
	var out []string
	if cfg.Client.Signing == "disabled" {
		out = append(out, "client.signing is disabled: servers that require signing will refuse sessions")
	}
	if cfg.Client.KeepaliveInterval > 0 && cfg.Client.KeepaliveInterval < cfg.Client.RequestTimeout {
		out = append(out, "client.keepalive_interval is shorter than client.request_timeout")
	}
	for _, m := range cfg.Mounts {
		if m.Credentials.Method == "lanman" {
			out = append(out, fmt.Sprintf("mount %q uses LANMAN authentication, which sends a weak password hash", m.Name))
		}
		if m.Credentials.Username != "" && m.Credentials.Password != "" {
			out = append(out, fmt.Sprintf("mount %q stores a password in clear text", m.Name))
		}
	}
	return out
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration: %s\n", cmdutil.ConfigSource())
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if w := warnings(cfg); len(w) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, line := range w {
			_, _ = fmt.Fprintf(out, "  - %s\n", line)
		}
	}
	return nil
}
