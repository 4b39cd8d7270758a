// Package bundle moves content between nodes as deterministic TAR archives.
//
// A bundle holds one regular entry per object at blocks/<cid> and, optionally,
// a non-authoritative index.json. Only raw leaves are bundled.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

type ExportOptions struct {
	// Labels maps names to identifiers. They are recorded in the index only.
	Labels map[string]string
	// IncludeIndex adds index.json.
	IncludeIndex bool
	// MaxSize bounds each exported object; 0 means no bound.
	MaxSize int64
}

// Export writes a bundle of ids, read from node, to w.
//
// Entry order is lexicographic and TAR headers are normalized, so the same
// set of ids always yields the same bytes. Every object is checked against
// its identifier before it is written.
func Export(ctx context.Context, w io.Writer, node store.Node, ids []string, opts ExportOptions) (err error) {
	if node == nil {
		return errors.New("bundle: nil node")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, s := range ids {
		id, err := cid.Decode(s)
		if err != nil || !id.Defined() {
			return store.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	sorted := make([]string, 0, len(uniq))
	for s := range uniq {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	blocks := make([]indexBlock, 0, len(sorted))
	for _, id := range sorted {
		b, err := fetch(ctx, node, id, opts.MaxSize)
		if err != nil {
			return fmt.Errorf("bundle: %s: %w", id, err)
		}
		if !cidutil.Verify(uniq[id], b) {
			return fmt.Errorf("bundle: %s: %w", id, store.ErrCIDMismatch)
		}
		if err := writeFile(tw, "blocks/"+id, b); err != nil {
			return err
		}
		blocks = append(blocks, indexBlock{CID: id, Size: len(b)})
	}

	if !opts.IncludeIndex {
		return nil
	}
	idx := indexJSON{
		Version:   FormatVersion,
		CIDCodec:  "raw",
		Multihash: "sha2-256",
		Blocks:    blocks,
	}
	if len(opts.Labels) > 0 {
		names := make([]string, 0, len(opts.Labels))
		for k := range opts.Labels {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if k == "" {
				return errors.New("bundle: empty label name")
			}
			v, err := cid.Decode(opts.Labels[k])
			if err != nil || !v.Defined() {
				return store.ErrInvalidCID
			}
			idx.Labels = append(idx.Labels, indexLabel{Name: k, CID: v.String()})
		}
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeFile(tw, "index.json", append(b, '\n'))
}

func fetch(ctx context.Context, node store.Node, id string, maxSize int64) ([]byte, error) {
	s, err := node.Cat(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var buf bytes.Buffer
	for {
		step, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if step.Done {
			return buf.Bytes(), nil
		}
		if step.Empty() {
			return nil, store.ErrNotFound
		}
		buf.Write(step.Chunk)
		if maxSize > 0 && int64(buf.Len()) > maxSize {
			return nil, fmt.Errorf("object exceeds %d bytes", maxSize)
		}
	}
}

type ImportOptions struct {
	// IgnoreUnknown skips entries other than blocks and index.json instead of
	// failing.
	IgnoreUnknown bool
	// Pin pins every imported object.
	Pin bool
}

// Import adds every block in the bundle read from r to node and returns the
// imported identifiers in archive order.
//
// Each block must hash to the identifier in its entry name, and node must
// return that same identifier.
func Import(ctx context.Context, r io.Reader, node store.Node, opts ImportOptions) ([]string, error) {
	if node == nil {
		return nil, errors.New("bundle: nil node")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var imported []string

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return imported, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		if name == "index.json" {
			continue
		}
		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		id, derr := cid.Decode(strings.TrimPrefix(name, "blocks/"))
		if derr != nil || !id.Defined() {
			return imported, store.ErrInvalidCID
		}
		key := id.String()
		if _, ok := seen[key]; ok {
			return imported, fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return imported, err
		}
		if !cidutil.Verify(id, payload) {
			return imported, fmt.Errorf("bundle: %s: %w", key, store.ErrCIDMismatch)
		}
		got, err := node.Add(ctx, payload)
		if err != nil {
			return imported, err
		}
		if got != key {
			return imported, store.ErrCIDMismatch
		}
		if opts.Pin {
			if err := node.Pin(ctx, key); err != nil {
				return imported, err
			}
		}
		imported = append(imported, key)
	}
}

type indexJSON struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
