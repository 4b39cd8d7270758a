package memnode

import (
	"context"
	"flag"

	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"
)

func init() {
	noderegistry.MustRegister(noderegistry.Backend{
		Name:        "mem",
		Description: "In-memory node; content is lost when the process exits",
		Usage:       noderegistry.UsageCLI | noderegistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) noderegistry.OpenFunc {
			minChunk := fs.Uint("mem-min-chunk", 0, "Minimum streamed chunk size in bytes; 0 uses the default")
			maxChunk := fs.Uint("mem-max-chunk", 0, "Maximum streamed chunk size in bytes; 0 uses the default")
			return func(context.Context, string) (store.Node, error) {
				return New(Options{Chunks: store.ChunkOptions{MinSize: *minChunk, MaxSize: *maxChunk}}), nil
			}
		},
	})
}
