package config

import (
	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/internal/cli/output"
	"github.com/marmos91/cifscore/pkg/config"
	"github.com/spf13/cobra"
)

var showSecrets bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and CIFSCTL_* environment
overrides are applied. Passwords are masked unless --show-secrets is given.

Table output is not supported; YAML is used instead.

Examples:
  cifsctl config show
  CIFSCTL_CLIENT_SIGNING=required cifsctl config show -o json`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords in clear")
}

const masked = "********"

// redact masks every password in cfg.
func redact(cfg *config.Config) {
	for i := range cfg.Mounts {
		c := &cfg.Mounts[i].Credentials
		if c.Password != "" {
			c.Password = masked
		}
		if c.SharePassword != "" {
			c.SharePassword = masked
		}
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	if !showSecrets {
		redact(cfg)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
