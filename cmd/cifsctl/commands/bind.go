package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/internal/cli/output"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/marmos91/cifscore/internal/statusapi"
	"github.com/spf13/cobra"
)

var (
	bindHold   bool
	bindListen string
)

var bindCmd = &cobra.Command{
	Use:   "bind <\\\\server\\share | mount>",
	Short: "Connect a share and show what the server reported",
	Long: `Negotiate, authenticate and connect a share, then print the tree.

With --hold the share stays bound until interrupted. Meanwhile the
connection is kept alive with ECHO probes, re-established after failures,
and an HTTP endpoint serves /status, /healthz and /metrics.

Examples:
  # Bind a share with NTLMSSP
  cifsctl bind '\\fs01\data' -u 'CORP\alice' --method ntlmssp

  # Bind a mount from the configuration file and keep it
  cifsctl bind projects --hold --listen 127.0.0.1:9445

  # Anonymous IPC$ as JSON
  cifsctl bind //fs01/IPC$ --anonymous -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runBind,
}

func init() {
	addCredentialFlags(bindCmd)
	bindCmd.Flags().BoolVar(&bindHold, "hold", false, "Keep the share bound until interrupted")
	bindCmd.Flags().StringVar(&bindListen, "listen", "", "Status endpoint address with --hold (default: :<metrics.port>)")
}

// BindResult is the printed outcome of a bind.
type BindResult struct {
	Share    string        `json:"share" yaml:"share"`
	Server   string        `json:"server" yaml:"server"`
	User     string        `json:"user" yaml:"user"`
	UID      uint16        `json:"uid" yaml:"uid"`
	TID      uint16        `json:"tid" yaml:"tid"`
	Service  string        `json:"service" yaml:"service"`
	NativeFS string        `json:"native_fs" yaml:"native_fs"`
	Signing  bool          `json:"signing" yaml:"signing"`
	Elapsed  time.Duration `json:"elapsed_ns" yaml:"elapsed"`
}

func (r BindResult) keyValues() output.KeyValues {
	return output.KeyValues{}.
		Add("Share", r.Share).
		Add("Server", r.Server).
		Add("User", userOrAnonymous(r.User)).
		Add("UID", strconv.Itoa(int(r.UID))).
		Add("TID", strconv.Itoa(int(r.TID))).
		Add("Service", r.Service).
		Add("Native FS", r.NativeFS).
		Add("Signing", strconv.FormatBool(r.Signing)).
		Add("Elapsed", r.Elapsed.Round(time.Microsecond).String())
}

func userOrAnonymous(u string) string {
	if u == "" {
		return "(anonymous)"
	}
	return u
}

func runBind(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.teardown()

	tgt, err := cmdutil.ResolveTarget(e.cfg, args[0], credFlags)
	if err != nil {
		return err
	}

	start := time.Now()
	tree, err := e.reg.Bind(e.ctx, tgt.Endpoint, tgt.Credentials, tgt.Share)
	if err != nil {
		return err
	}

	res := BindResult{
		Share:   tree.Path(),
		Server:  tree.Server(),
		User:    tgt.Credentials.Username,
		UID:     tree.UID(),
		TID:     tree.TID(),
		Signing: tree.Signing(),
		Elapsed: time.Since(start),
	}
	if info := tree.Info(); info != nil {
		res.Service, res.NativeFS = info.Service, info.NativeFS
	}

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		err = output.PrintKeyValues(p.Writer(), res.keyValues())
	} else {
		err = p.Print(res)
	}
	if err != nil {
		return err
	}

	if bindHold {
		if err := hold(e, p); err != nil {
			return err
		}
	}

	unbindCtx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 5*time.Second)
	defer cancel()
	return e.reg.Unbind(unbindCtx, tree)
}

// hold serves the status endpoint until the command context ends.
func hold(e *env, p *output.Printer) error {
	addr := bindListen
	if addr == "" {
		addr = fmt.Sprintf(":%d", e.cfg.Metrics.Port)
	}

	srv, err := statusapi.Listen(addr, e.reg)
	if err != nil {
		return fmt.Errorf("status endpoint: %w", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	if p.Format() == output.FormatTable {
		p.Success(fmt.Sprintf("Holding share, status on http://%s/status (Ctrl+C to release)", srv.Addr()))
	}
	logger.Info("holding share", "status_addr", srv.Addr())

	select {
	case <-e.ctx.Done():
	case err = <-served:
		logger.Error("status endpoint stopped", logger.KeyError, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("status endpoint shutdown", logger.KeyError, serr)
	}
	return err
}
