package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/pkg/cifs"
	"github.com/marmos91/cifscore/pkg/config"
	"github.com/marmos91/cifscore/pkg/metrics"
	"github.com/spf13/cobra"

	// Registers the Prometheus CIFS metrics constructor.
	_ "github.com/marmos91/cifscore/pkg/metrics/prometheus"
)

// credFlags are shared by every command that binds a share.
var credFlags cmdutil.CredentialFlags

func addCredentialFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&credFlags.Username, "user", "u", "", `User name, optionally DOMAIN\user or user@domain`)
	f.StringVar(&credFlags.Password, "password", "", "Password (default: $"+cmdutil.PasswordEnv+" or prompt)")
	f.StringVarP(&credFlags.Domain, "domain", "d", "", "Domain or workgroup")
	f.StringVar(&credFlags.Method, "method", "", "Authentication method (auto|lanman|ntlm|ntlmv2|ntlmssp)")
	f.StringVar(&credFlags.Variant, "variant", "", "NTLMSSP response variant (ntlmv2|ntlm2)")
	f.StringVar(&credFlags.SharePassword, "share-password", "", "Password for share-level security servers")
	f.BoolVar(&credFlags.Anonymous, "anonymous", false, "Bind with an anonymous session")
}

// env is what a binding command needs: configuration, a registry and a
// context canceled on SIGINT or SIGTERM.
type env struct {
	ctx      context.Context
	cfg      *config.Config
	reg      *cifs.Registry
	teardown func()
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	shutdown, err := cmdutil.InitRuntime(ctx, cfg)
	if err != nil {
		stop()
		return nil, err
	}

	opts := cfg.Client.Options()
	opts.Metrics = metrics.NewCIFSMetrics()
	opts.OnOplockBreak = func(b cifs.OplockBreak) {
		logger.Info("oplock break",
			logger.KeyServer, b.Server,
			logger.KeyTID, b.TID,
			"fid", b.FID,
			"level", b.Level)
	}
	reg := cifs.NewRegistry(opts)

	return &env{
		ctx: ctx,
		cfg: cfg,
		reg: reg,
		teardown: func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := reg.Close(closeCtx); err != nil {
				logger.Warn("registry close", logger.KeyError, err)
			}
			shutdown()
			stop()
		},
	}, nil
}
