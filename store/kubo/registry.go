package kubo

import (
	"context"
	"flag"

	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"
)

func init() {
	noderegistry.MustRegister(noderegistry.Backend{
		Name:        "ipfs",
		Description: "Kubo node via the local ipfs CLI",
		Usage:       noderegistry.UsageCLI | noderegistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) noderegistry.OpenFunc {
			bin := fs.String("ipfs-bin", "ipfs", "Path to the ipfs binary (for --backend=ipfs)")
			path := fs.String("ipfs-path", "", "IPFS_PATH repo directory (for --backend=ipfs)")
			online := fs.Bool("ipfs-online", false, "Allow the ipfs CLI to fetch missing content from the network")
			shutdown := fs.Bool("ipfs-shutdown-on-stop", false, "Run 'ipfs shutdown' when the node is stopped")
			return func(ctx context.Context, repo string) (store.Node, error) {
				if repo == "" {
					repo = *path
				}
				return New(Options{
					Bin:            *bin,
					Repo:           repo,
					Online:         *online,
					ShutdownOnStop: *shutdown,
				}), nil
			}
		},
	})
}
