// Command pinfetch reads, writes and pins content on a content-store node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/config"
	"xdao.co/pinfetch/internal/logging"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"

	_ "xdao.co/pinfetch/store/grpcnode"
	_ "xdao.co/pinfetch/store/kubo"
	_ "xdao.co/pinfetch/store/localfs"
	_ "xdao.co/pinfetch/store/memnode"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd(in, out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

// globals carries the root flags shared by every subcommand.
type globals struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath  string
	metricsFile string
	cfg         config.Config

	backendFlags *flag.FlagSet
	bound        *noderegistry.Bound
	log          *zap.Logger
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	g := &globals{in: in, out: out, errOut: errOut, cfg: config.Default()}

	root := &cobra.Command{
		Use:           "pinfetch",
		Short:         "Fetch, store and pin content by identifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (.json, .yaml or .yml)")
	pf.String("backend", config.DefaultBackend, "Node backend name (see 'pinfetch backends')")
	pf.String("repo", "", "Node repo location; defaults to "+client.DefaultRepo+" for localfs")
	pf.Duration("timeout", client.DefaultTimeout, "Per-call timeout for node operations")
	pf.Duration("read-deadline", 0, "Bound on a whole read; 0 disables it")
	pf.String("log-level", "warn", "Log level")
	pf.String("log-format", "console", "Log format: console or json")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "Write client metrics in Prometheus text format to this file on exit")

	g.backendFlags = flag.NewFlagSet("backends", flag.ContinueOnError)
	g.bound = noderegistry.RegisterFlags(g.backendFlags, noderegistry.UsageCLI)
	pf.AddGoFlagSet(g.backendFlags)

	root.AddCommand(
		newGetCmd(g),
		newPutCmd(g),
		newPinCmd(g),
		newStatCmd(g),
		newBackendsCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newKeyCmd(g),
	)
	return root
}

// load builds the effective config: defaults, then the config file, then
// flags set on the command line.
func (g *globals) load(cmd *cobra.Command) error {
	if g.configPath != "" {
		cfg, err := config.LoadFile(g.configPath)
		if err != nil {
			return err
		}
		g.cfg = cfg
	}

	flags := cmd.Flags()
	if flags.Changed("backend") || g.configPath == "" {
		g.cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("repo") {
		g.cfg.Repo, _ = flags.GetString("repo")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		g.cfg.Timeout = config.Duration(d)
	}
	if flags.Changed("read-deadline") {
		d, _ := flags.GetDuration("read-deadline")
		g.cfg.ReadDeadline = config.Duration(d)
	}
	if flags.Changed("log-level") || g.configPath == "" {
		g.cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") || g.configPath == "" {
		g.cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if err := g.cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.NewTo(g.errOut, g.cfg.LogLevel, g.cfg.LogFormat)
	if err != nil {
		return err
	}
	g.log = log
	return nil
}

// repo returns the location handed to the backend. Only localfs falls back
// to client.DefaultRepo; other backends locate themselves through their flags.
func (g *globals) repo() string {
	if g.cfg.Repo != "" {
		return g.cfg.Repo
	}
	if g.configPath == "" && g.cfg.Backend == "localfs" {
		if f := g.backendFlags.Lookup("localfs-dir"); f != nil && f.Value.String() != "" {
			return ""
		}
		return client.DefaultRepo
	}
	return ""
}

func (g *globals) openNode(ctx context.Context) (store.Node, error) {
	if g.configPath != "" {
		cfg := g.cfg
		cfg.Repo = g.repo()
		return cfg.Open(ctx, noderegistry.UsageCLI)
	}
	return g.bound.Open(ctx, g.cfg.Backend, g.repo())
}

// withClient installs the process client for the duration of fn.
func (g *globals) withClient(ctx context.Context, fn func(*client.Client) error) error {
	restore := client.SetOpener(func(ctx context.Context, _ string) (store.Node, error) {
		return g.openNode(ctx)
	})
	defer restore()

	opts := append(g.cfg.ClientOptions(), client.WithLogger(g.log))
	var reg *prometheus.Registry
	if g.metricsFile != "" {
		reg = prometheus.NewRegistry()
		m, err := client.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithMetrics(m))
	}
	c, err := client.CreateSingleton(ctx, g.repo(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Stop(context.WithoutCancel(ctx)); err != nil {
			g.log.Warn("stop", zap.Error(err))
		}
		_ = g.log.Sync()
	}()
	err = fn(c)
	if reg != nil {
		// Written even when fn failed; failed reads are counted too.
		if werr := prometheus.WriteToTextfile(g.metricsFile, reg); werr != nil {
			return errors.Join(err, fmt.Errorf("write metrics: %w", werr))
		}
	}
	return err
}

func (g *globals) timeout() time.Duration { return time.Duration(g.cfg.Timeout) }
