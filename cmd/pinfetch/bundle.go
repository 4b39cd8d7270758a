package main

import (
	"bytes"
	"fmt"

	"github.com/google/renameio"
	"github.com/spf13/cobra"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/store/bundle"
)

func newExportCmd(g *globals) *cobra.Command {
	var (
		outPath string
		index   bool
	)
	cmd := &cobra.Command{
		Use:   "export <cid>...",
		Short: "Write the named objects as a deterministic TAR bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				var buf bytes.Buffer
				opts := bundle.ExportOptions{IncludeIndex: index, MaxSize: g.cfg.MaxSize}
				if err := bundle.Export(cmd.Context(), &buf, c.Node(), args, opts); err != nil {
					return err
				}
				if outPath == "" {
					_, err := g.out.Write(buf.Bytes())
					return err
				}
				return renameio.WriteFile(outPath, buf.Bytes(), 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&index, "index", true, "Include index.json")
	return cmd
}

func newImportCmd(g *globals) *cobra.Command {
	var (
		pin           bool
		ignoreUnknown bool
	)
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Add every object in a bundle and print its identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(g.in, args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd.Context(), func(c *client.Client) error {
				opts := bundle.ImportOptions{Pin: pin, IgnoreUnknown: ignoreUnknown}
				ids, err := bundle.Import(cmd.Context(), bytes.NewReader(b), c.Node(), opts)
				for _, id := range ids {
					_, _ = fmt.Fprintln(g.out, id)
				}
				if err != nil {
					return fmt.Errorf("import %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pin, "pin", false, "Pin every imported object")
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip entries that are not blocks")
	return cmd
}
