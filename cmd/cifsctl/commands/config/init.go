package config

import (
	"fmt"
	"os"

	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/internal/cli/prompt"
	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/marmos91/cifscore/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with defaults",
	Long: `Write a configuration file with every default spelled out and an
example mount.

Examples:
  cifsctl config init
  cifsctl config init --config ./cifsctl.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file without asking")
}

// sampleConfig is the default configuration plus one example mount.
func sampleConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Mounts = []config.MountConfig{{
		Name:     "example",
		Endpoint: cifs.Endpoint{Address: "fileserver.example.com"},
		Share:    "public",
		Credentials: cifs.Credentials{
			Username: "guest",
			Method:   "auto",
		},
	}}
	return cfg
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
		ok, err := prompt.Confirm(fmt.Sprintf("Overwrite %s", path))
		if err != nil {
			return err
		}
		if !ok {
			return cmdutil.ErrCanceled
		}
	}

	if err := config.SaveConfig(sampleConfig(), path); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
	return nil
}
