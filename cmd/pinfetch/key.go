package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/keys"
)

type docSource struct {
	fromStore bool
	maxSize   int64
}

func (s *docSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&s.fromStore, "from-store", false, "Treat <document> as a CID and read it from the node")
	cmd.Flags().Int64Var(&s.maxSize, "doc-max-size", 1<<20, "Maximum document size when reading from the node")
}

func (s *docSource) load(ctx context.Context, g *globals, ref string) (*keys.Document, error) {
	if !s.fromStore {
		b, err := os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
		return keys.ParseDocument(b)
	}

	var doc *keys.Document
	err := g.withClient(ctx, func(c *client.Client) error {
		res := c.Read(ctx, ref, s.maxSize)
		if !res.OK() {
			return fmt.Errorf("read document %s: %s", ref, res.Code)
		}
		var err error
		doc, err = keys.ParseDocument(res.Content)
		return err
	})
	return doc, err
}

func newKeyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Look up document public keys and verify signatures",
	}

	var findSrc docSource
	find := &cobra.Command{
		Use:   "find <document> <key-id>",
		Short: "Print the first public key whose id ends with <key-id>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := findSrc.load(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			k, ok := keys.FindPublicKey(doc, args[1])
			if !ok {
				return fmt.Errorf("key %q not found in %s", args[1], doc.ID)
			}
			enc := json.NewEncoder(g.out)
			enc.SetIndent("", "  ")
			return enc.Encode(k)
		},
	}
	findSrc.addFlags(find)

	var (
		verifySrc docSource
		sig       string
		hashAlg   string
	)
	verify := &cobra.Command{
		Use:   "verify <document> <key-id> <message-file|->",
		Short: "Verify a base64 signature over a message with a document key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := verifySrc.load(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			k, ok := keys.FindPublicKey(doc, args[1])
			if !ok {
				return fmt.Errorf("key %q not found in %s", args[1], doc.ID)
			}
			msg, err := readInput(g.in, args[2])
			if err != nil {
				return err
			}
			if err := k.Verify(msg, sig, hashAlg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(g.out, "ok\t%s\n", k.ID)
			return err
		},
	}
	verifySrc.addFlags(verify)
	verify.Flags().StringVar(&sig, "sig", "", "Base64 signature")
	verify.Flags().StringVar(&hashAlg, "hash", "sha256", "Message hash for Dilithium3 keys: sha256, sha512 or sha3-256")
	_ = verify.MarkFlagRequired("sig")

	cmd.AddCommand(find, verify)
	return cmd
}
