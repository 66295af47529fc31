package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/marmos91/cifscore/cmd/cifsctl/cmdutil"
	"github.com/marmos91/cifscore/internal/cli/output"
	"github.com/marmos91/cifscore/internal/logger"
	"github.com/spf13/cobra"
)

var (
	echoCount    int
	echoInterval time.Duration
	echoSize     int
)

var echoCmd = &cobra.Command{
	Use:   "echo <\\\\server\\share | mount>",
	Short: "Measure ECHO round trips on a bound share",
	Long: `Bind a share and send ECHO requests over its connection.

Each probe carries a payload that the server must return unchanged. Lost
connections are re-established between probes the same way any request
would be, so echo also exercises the reconnect path.

Examples:
  cifsctl echo '\\fs01\IPC$' --anonymous -c 10
  cifsctl echo projects -c 100 -i 10ms -s 1024 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEcho,
}

func init() {
	addCredentialFlags(echoCmd)
	echoCmd.Flags().IntVarP(&echoCount, "count", "c", 4, "Number of probes")
	echoCmd.Flags().DurationVarP(&echoInterval, "interval", "i", time.Second, "Delay between probes")
	echoCmd.Flags().IntVarP(&echoSize, "size", "s", 32, "Payload size in bytes")
}

// EchoResult summarizes a run of probes.
type EchoResult struct {
	Share  string          `json:"share" yaml:"share"`
	Sent   int             `json:"sent" yaml:"sent"`
	Failed int             `json:"failed" yaml:"failed"`
	Min    time.Duration   `json:"min_ns" yaml:"min"`
	Avg    time.Duration   `json:"avg_ns" yaml:"avg"`
	Max    time.Duration   `json:"max_ns" yaml:"max"`
	RTTs   []time.Duration `json:"rtts_ns" yaml:"rtts"`
}

func (r EchoResult) keyValues() output.KeyValues {
	return output.KeyValues{}.
		Add("Share", r.Share).
		Add("Sent", strconv.Itoa(r.Sent)).
		Add("Failed", strconv.Itoa(r.Failed)).
		Add("Min", r.Min.String()).
		Add("Avg", r.Avg.String()).
		Add("Max", r.Max.String())
}

// summarize fills Min, Avg and Max from RTTs.
func (r *EchoResult) summarize() {
	if len(r.RTTs) == 0 {
		return
	}
	var total time.Duration
	for _, d := range r.RTTs {
		total += d
	}
	r.Min = slices.Min(r.RTTs)
	r.Max = slices.Max(r.RTTs)
	r.Avg = total / time.Duration(len(r.RTTs))
}

func echoPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func runEcho(cmd *cobra.Command, args []string) error {
	if echoCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if echoSize < 0 || echoSize > 0xFFFF {
		return fmt.Errorf("--size must be between 0 and 65535")
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.teardown()

	tgt, err := cmdutil.ResolveTarget(e.cfg, args[0], credFlags)
	if err != nil {
		return err
	}

	tree, err := e.reg.Bind(e.ctx, tgt.Endpoint, tgt.Credentials, tgt.Share)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 5*time.Second)
		defer cancel()
		_ = e.reg.Unbind(ctx, tree)
	}()

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	res := EchoResult{Share: tree.Path()}
	payload := echoPayload(echoSize)
	for i := range echoCount {
		if i > 0 {
			select {
			case <-e.ctx.Done():
			case <-time.After(echoInterval):
			}
		}
		if e.ctx.Err() != nil {
			break
		}

		res.Sent++
		rtt, err := tree.Echo(e.ctx, payload)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			res.Failed++
			logger.Warn("echo failed", logger.KeyShare, tree.Path(), logger.KeyError, err)
			if p.Format() == output.FormatTable {
				p.Failure(fmt.Sprintf("seq=%d error: %v", i+1, err))
			}
			continue
		}
		res.RTTs = append(res.RTTs, rtt)
		if p.Format() == output.FormatTable {
			p.Printf("%d bytes from %s: seq=%d time=%s\n", len(payload), tree.Server(), i+1, rtt.Round(time.Microsecond))
		}
	}
	res.summarize()

	if p.Format() == output.FormatTable {
		p.Printf("\n")
		return output.PrintKeyValues(p.Writer(), res.keyValues())
	}
	return p.Print(res)
}
