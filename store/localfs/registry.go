package localfs

import (
	"context"
	"flag"
	"fmt"

	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"
)

func init() {
	noderegistry.MustRegister(noderegistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem node (repo directory with a pin set)",
		Usage:       noderegistry.UsageCLI | noderegistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) noderegistry.OpenFunc {
			dir := fs.String("localfs-dir", "", "LocalFS repo directory (for --backend=localfs)")
			minChunk := fs.Uint("localfs-min-chunk", 0, "Minimum streamed chunk size in bytes; 0 uses the default")
			maxChunk := fs.Uint("localfs-max-chunk", 0, "Maximum streamed chunk size in bytes; 0 uses the default")
			return func(ctx context.Context, repo string) (store.Node, error) {
				root := repo
				if root == "" {
					root = *dir
				}
				if root == "" {
					return nil, fmt.Errorf("missing --localfs-dir")
				}
				return NewWithChunks(root, store.ChunkOptions{MinSize: *minChunk, MaxSize: *maxChunk})
			}
		},
	})
}
