// Package memnode is an in-process content-store node backed by a go-datastore.
//
// It is deterministic and offline. With the default map datastore nothing
// survives the process; pass a persistent datastore to keep content.
package memnode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
)

var (
	blocksPrefix = ds.NewKey("/blocks")
	dirsPrefix   = ds.NewKey("/dirs")
	pinsPrefix   = ds.NewKey("/pins")
)

type Options struct {
	// Datastore holds blocks, directory nodes and pins. If nil, a
	// mutex-wrapped map datastore owned by the node is used.
	Datastore ds.Datastore
	// Chunks sets Cat's chunk boundaries.
	Chunks store.ChunkOptions
}

// Node implements store.Node in memory.
type Node struct {
	d       ds.Datastore
	ownsDS  bool
	chunks  store.ChunkOptions
	stopped atomic.Bool
}

var _ store.Node = (*Node)(nil)

func New(opts Options) *Node {
	n := &Node{d: opts.Datastore, chunks: opts.Chunks}
	if n.d == nil {
		n.d = dssync.MutexWrap(ds.NewMapDatastore())
		n.ownsDS = true
	}
	return n
}

func (n *Node) Add(ctx context.Context, data []byte) (string, error) {
	if n.stopped.Load() {
		return "", store.ErrStopped
	}
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return "", err
	}
	if err := n.d.Put(ctx, blockKey(id), bytes.Clone(data)); err != nil {
		return "", fmt.Errorf("memnode: put: %w", err)
	}
	return id.String(), nil
}

// AddDirectory stores a directory node linking children, in order, and
// returns its identifier. Children need not exist.
func (n *Node) AddDirectory(ctx context.Context, children []string) (string, error) {
	if n.stopped.Load() {
		return "", store.ErrStopped
	}
	links := make([]cid.Cid, 0, len(children))
	for _, c := range children {
		id, err := cid.Decode(c)
		if err != nil {
			return "", store.ErrInvalidCID
		}
		links = append(links, id)
	}
	id, err := cidutil.DirectoryCID(links)
	if err != nil {
		return "", err
	}
	if err := n.d.Put(ctx, dirKey(id), cidutil.EncodeLinks(links)); err != nil {
		return "", fmt.Errorf("memnode: put: %w", err)
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

	key, typ := blockKey(id), store.TypeFile
	if cidutil.IsDirectory(id) {
		key, typ = dirKey(id), store.TypeDirectory
	} else if !cidutil.IsFile(id) {
		return nil, store.ErrNotFound
	}

	size, err := n.d.GetSize(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memnode: stat: %w", err)
	}
	return &store.ObjectStat{CID: id.String(), Type: typ, DataSize: int64(size), HasDataSize: true}, nil
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
	b, err := n.d.Get(ctx, blockKey(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memnode: get: %w", err)
	}
	return store.NewReaderStream(io.NopCloser(bytes.NewReader(b)), n.chunks), nil
}

func (n *Node) Pin(ctx context.Context, s string) error {
	if n.stopped.Load() {
		return store.ErrStopped
	}
	id, err := decode(s)
	if err != nil {
		return err
	}
	has, err := n.d.Has(ctx, blockKey(id))
	if err == nil && !has {
		has, err = n.d.Has(ctx, dirKey(id))
	}
	if err != nil {
		return fmt.Errorf("memnode: pin: %w", err)
	}
	if !has {
		return store.ErrNotFound
	}
	// Put is an overwrite, so pinning twice leaves one entry.
	return n.d.Put(ctx, pinKey(id), nil)
}

// Pinned reports whether id is in the pin set.
func (n *Node) Pinned(ctx context.Context, s string) bool {
	id, err := decode(s)
	if err != nil {
		return false
	}
	has, err := n.d.Has(ctx, pinKey(id))
	return err == nil && has
}

// Pins lists pinned identifiers, sorted.
func (n *Node) Pins(ctx context.Context) ([]string, error) {
	res, err := n.d.Query(ctx, query.Query{Prefix: pinsPrefix.String(), KeysOnly: true})
	if err != nil {
		return nil, err
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimPrefix(e.Key, pinsPrefix.String()+"/"))
	}
	sort.Strings(out)
	return out, nil
}

func (n *Node) Stop(ctx context.Context) error {
	if n.stopped.Swap(true) {
		return nil
	}
	if n.ownsDS {
		return n.d.Close()
	}
	return nil
}

func decode(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, store.ErrInvalidCID
	}
	return id, nil
}

func blockKey(id cid.Cid) ds.Key { return blocksPrefix.ChildString(id.String()) }
func dirKey(id cid.Cid) ds.Key   { return dirsPrefix.ChildString(id.String()) }
func pinKey(id cid.Cid) ds.Key   { return pinsPrefix.ChildString(id.String()) }
