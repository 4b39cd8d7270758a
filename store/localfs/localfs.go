package localfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/renameio"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
)

// Node is a local filesystem-backed content-store node.
//
// Objects are stored immutably and keyed strictly by CID under <root>/blocks.
// Pins are marker files under <root>/pins. Only raw leaves are stored; any
// other codec is not a file.
type Node struct {
	root    string
	chunks  store.ChunkOptions
	stopped atomic.Bool
}

var _ store.Node = (*Node)(nil)

// New constructs a filesystem node rooted at root. The directory will be created if needed.
func New(root string) (*Node, error) {
	return NewWithChunks(root, store.ChunkOptions{})
}

// NewWithChunks is New with explicit Cat chunk boundaries.
func NewWithChunks(root string, chunks store.ChunkOptions) (*Node, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{root, filepath.Join(root, "blocks"), filepath.Join(root, "pins")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Node{root: root, chunks: chunks}, nil
}

// Root returns the repo directory.
func (n *Node) Root() string { return n.root }

func (n *Node) Add(ctx context.Context, data []byte) (string, error) {
	if n.stopped.Load() {
		return "", store.ErrStopped
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return "", err
	}

	path := n.blockPath(id)
	if existing, err := os.ReadFile(path); err == nil {
		if !bytes.Equal(existing, data) {
			// The stored object was changed out of band; do not "repair" it.
			return "", store.ErrImmutable
		}
		return id.String(), nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, data, 0o444); err != nil {
		return "", fmt.Errorf("localfs: write block: %w", err)
	}
	return id.String(), nil
}

func (n *Node) Stat(ctx context.Context, s string) (*store.ObjectStat, error) {
	if n.stopped.Load() {
		return nil, store.ErrStopped
	}
	id, err := decode(s)
	if err != nil {
		return nil, err
	}
	if !cidutil.IsFile(id) {
		return nil, store.ErrNotFound
	}
	fi, err := os.Stat(n.blockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &store.ObjectStat{CID: id.String(), Type: store.TypeFile, DataSize: fi.Size(), HasDataSize: true}, nil
}

func (n *Node) Cat(ctx context.Context, s string) (store.Stream, error) {
	if n.stopped.Load() {
		return nil, store.ErrStopped
	}
	id, err := decode(s)
	if err != nil {
		return nil, err
	}
	if !cidutil.IsFile(id) {
		return nil, store.ErrNotAFile
	}
	f, err := os.Open(n.blockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	vr, err := newVerifyingReader(f, id)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return store.NewReaderStream(vr, n.chunks), nil
}

func (n *Node) Pin(ctx context.Context, s string) error {
	if n.stopped.Load() {
		return store.ErrStopped
	}
	id, err := decode(s)
	if err != nil {
		return err
	}
	if _, err := os.Stat(n.blockPath(id)); err != nil {
		if os.IsNotExist(err) {
			return store.ErrNotFound
		}
		return err
	}
	// O_CREATE without O_EXCL: an existing marker is left as is.
	f, err := os.OpenFile(n.pinPath(id), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("localfs: pin: %w", err)
	}
	return f.Close()
}

// Pinned reports whether id has a pin marker.
func (n *Node) Pinned(s string) bool {
	id, err := decode(s)
	if err != nil {
		return false
	}
	_, err = os.Stat(n.pinPath(id))
	return err == nil
}

// Pins lists pinned identifiers, sorted.
func (n *Node) Pins() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(n.root, "pins"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (n *Node) Stop(ctx context.Context) error {
	n.stopped.Store(true)
	return nil
}

func (n *Node) blockPath(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(n.root, "blocks", s)
	}
	return filepath.Join(n.root, "blocks", s[len(s)-2:], s)
}

func (n *Node) pinPath(id cid.Cid) string {
	return filepath.Join(n.root, "pins", id.String())
}

func decode(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, store.ErrInvalidCID
	}
	return id, nil
}

// verifyingReader hashes bytes as they are read and turns io.EOF into
// ErrCIDMismatch when the content does not match the requested CID.
type verifyingReader struct {
	rc   io.ReadCloser
	h    hash.Hash
	want []byte
}

func newVerifyingReader(rc io.ReadCloser, id cid.Cid) (*verifyingReader, error) {
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return nil, store.ErrInvalidCID
	}
	if dec.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("localfs: unsupported multihash %s", multihash.Codes[dec.Code])
	}
	return &verifyingReader{rc: rc, h: sha256.New(), want: dec.Digest}, nil
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.h.Write(p[:n])
	if errors.Is(err, io.EOF) && !bytes.Equal(v.h.Sum(nil), v.want) {
		return n, store.ErrCIDMismatch
	}
	return n, err
}

func (v *verifyingReader) Close() error { return v.rc.Close() }
