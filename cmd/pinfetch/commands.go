package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/spf13/cobra"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/deadline"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/noderegistry"
)

func newGetCmd(g *globals) *cobra.Command {
	var (
		maxSize int64
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "get <cid>",
		Short: "Fetch content, enforcing a size limit, and pin it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := g.cfg.MaxSize
			if cmd.Flags().Changed("max-size") {
				limit = maxSize
			}
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				res := c.Read(cmd.Context(), args[0], limit)
				if !res.OK() {
					return fmt.Errorf("get %s: %s", args[0], res.Code)
				}
				if outPath == "" {
					_, err := g.out.Write(res.Content)
					return err
				}
				return renameio.WriteFile(outPath, res.Content, 0o600)
			})
		},
	}
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "Maximum content size in bytes (default from config, 16 MiB)")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (default stdout)")
	return cmd
}

func newPutCmd(g *globals) *cobra.Command {
	var pin bool
	cmd := &cobra.Command{
		Use:   "put <file|->",
		Short: "Store a file (or stdin) and print its identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(g.in, args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				id, err := c.Write(cmd.Context(), b)
				if err != nil {
					return err
				}
				if pin {
					if err := c.Pin(cmd.Context(), id); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintln(g.out, id)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&pin, "pin", false, "Pin the content after storing it")
	return cmd
}

func newPinCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <cid>...",
		Short: "Pin content already held by the node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				for _, id := range args {
					if err := c.Pin(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newStatCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <cid>",
		Short: "Print an object's type and declared size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				st, err := deadline.Run(cmd.Context(), c.Timeout(), func(ctx context.Context) (*store.ObjectStat, error) {
					return c.Node().Stat(ctx, args[0])
				})
				if err == nil && st == nil {
					err = store.ErrNotFound
				}
				if err != nil {
					return fmt.Errorf("stat %s: %w", args[0], err)
				}
				size := "unknown"
				if st.HasDataSize {
					size = fmt.Sprint(st.DataSize)
				}
				_, err = fmt.Fprintf(g.out, "%s\t%s\t%s\n", st.CID, st.Type, size)
				return err
			})
		},
	}
}

func newBackendsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the node backends linked into this binary",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, b := range noderegistry.List(noderegistry.UsageCLI) {
				if b.Description == "" {
					_, _ = fmt.Fprintf(g.out, "%s\n", b.Name)
					continue
				}
				_, _ = fmt.Fprintf(g.out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}
}

func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
