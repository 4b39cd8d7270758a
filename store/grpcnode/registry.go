package grpcnode

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"
)

func init() {
	noderegistry.MustRegister(noderegistry.Backend{
		Name:        "grpc",
		Description: "gRPC node client (talks to a node daemon, e.g. pinnoded)",
		Usage:       noderegistry.UsageCLI,
		Flags: func(fs *flag.FlagSet) noderegistry.OpenFunc {
			target := fs.String("grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			dialTimeout := fs.Duration("grpc-dial-timeout", 5*time.Second, "Dial timeout (for --backend=grpc)")
			timeout := fs.Duration("grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			maxMsgBytes := fs.Int("grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
			stopRemote := fs.Bool("grpc-stop-remote", false, "Stop the remote node when this client stops")
			return func(ctx context.Context, repo string) (store.Node, error) {
				t := strings.TrimSpace(*target)
				if t == "" {
					t = strings.TrimSpace(repo)
				}
				if t == "" {
					return nil, fmt.Errorf("missing --grpc-target")
				}
				client, err := Dial(t, DialOptions{Timeout: *dialTimeout, MaxMsgBytes: *maxMsgBytes})
				if err != nil {
					return nil, err
				}
				client.Timeout = *timeout
				client.StopRemote = *stopRemote
				return client, nil
			}
		},
	})
}
