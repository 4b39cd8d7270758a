// Command pinnoded exposes a node backend over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/pinfetch/config"
	"xdao.co/pinfetch/internal/logging"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/grpcnode"
	"xdao.co/pinfetch/store/noderegistry"

	_ "xdao.co/pinfetch/store/kubo"
	_ "xdao.co/pinfetch/store/localfs"
	_ "xdao.co/pinfetch/store/memnode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

type daemonFlags struct {
	configPath   string
	listen       string
	backend      string
	repo         string
	metricsAddr  string
	allowStop    bool
	maxMsgBytes  int
	logLevel     string
	logFormat    string
	listBackends bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var f daemonFlags
	backendFlags := flag.NewFlagSet("backends", flag.ContinueOnError)
	bound := noderegistry.RegisterFlags(backendFlags, noderegistry.UsageDaemon)

	cmd := &cobra.Command{
		Use:           "pinnoded",
		Short:         "Serve a content-store node over gRPC",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.listBackends {
				for _, b := range noderegistry.List(noderegistry.UsageDaemon) {
					_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
				}
				return nil
			}
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			log, err := logging.NewTo(errOut, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			open := func(ctx context.Context) (store.Node, error) {
				if f.configPath != "" {
					return cfg.Open(ctx, noderegistry.UsageDaemon)
				}
				return bound.Open(ctx, cfg.Backend, cfg.Repo)
			}
			return serve(cmd.Context(), f, cfg, open, log)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Config file (.json, .yaml or .yml)")
	fl.StringVar(&f.listen, "listen", "127.0.0.1:7777", "gRPC listen address")
	fl.StringVar(&f.backend, "backend", config.DefaultBackend, "Node backend name")
	fl.StringVar(&f.repo, "repo", "", "Node repo location")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address; empty disables")
	fl.BoolVar(&f.allowStop, "allow-stop", false, "Let clients stop the node remotely")
	fl.IntVar(&f.maxMsgBytes, "max-msg-bytes", 0, "Max gRPC message size in bytes; 0 uses grpc defaults")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level")
	fl.StringVar(&f.logFormat, "log-format", "console", "Log format: console or json")
	fl.BoolVar(&f.listBackends, "list-backends", false, "List supported backends and exit")
	fl.AddGoFlagSet(backendFlags)
	return cmd
}

func (f *daemonFlags) config(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	flags := cmd.Flags()
	set := func(name string) bool { return f.configPath == "" || flags.Changed(name) }
	if set("backend") {
		cfg.Backend = f.backend
	}
	if set("repo") {
		cfg.Repo = f.repo
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = f.logFormat
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, f daemonFlags, cfg config.Config, open func(context.Context) (store.Node, error), log *zap.Logger) error {
	node, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn("stop node", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := newRPCMetrics(reg)

	var opts []grpc.ServerOption
	if f.maxMsgBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(f.maxMsgBytes), grpc.MaxSendMsgSize(f.maxMsgBytes))
	}
	s := newServer(node, f.allowStop, log, metrics, opts...)

	lis, err := net.Listen("tcp", f.listen)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = hs.Close() }()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	log.Info("pinnoded listening", zap.String("addr", lis.Addr().String()), zap.String("backend", cfg.Backend))
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func newServer(node store.Node, allowStop bool, log *zap.Logger, m *rpcMetrics, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(m.unary),
		grpc.ChainStreamInterceptor(m.stream),
	)
	s := grpc.NewServer(opts...)
	grpcnode.RegisterNodeServer(s, &grpcnode.Server{Node: node, AllowStop: allowStop, Log: log})
	return s
}
