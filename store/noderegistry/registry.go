package noderegistry

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"sync"

	"xdao.co/pinfetch/store"
)

// OpenFunc opens a node. repo, when non-empty, overrides the backend's own
// location flag.
type OpenFunc func(ctx context.Context, repo string) (store.Node, error)

// Backend is a build-time plugin that can open a store.Node implementation.
//
// Backends typically register themselves in init():
//
//	noderegistry.MustRegister(noderegistry.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Flags adds backend-specific flags to fs and returns the function that
	// opens the backend from the values parsed into them. It may be called any
	// number of times, each time with a fresh fs.
	Flags func(fs *flag.FlagSet) OpenFunc
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("noderegistry: backend name is required")
	}
	if b.Flags == nil {
		return fmt.Errorf("noderegistry: backend %q missing Flags", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("noderegistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("noderegistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Bound holds the openers of every backend whose flags were registered on one
// FlagSet.
type Bound struct {
	usage   Usage
	openers map[string]OpenFunc
}

// RegisterFlags registers flags for all backends matching usage.
//
// This enables single-pass flag parsing (Go's flag package rejects unknown flags).
func RegisterFlags(fs *flag.FlagSet, usage Usage) *Bound {
	bs := List(usage)
	b := &Bound{usage: usage, openers: make(map[string]OpenFunc, len(bs))}
	for _, be := range bs {
		b.openers[be.Name] = be.Flags(fs)
	}
	return b
}

// Open opens the named backend using the parsed flag values.
func (b *Bound) Open(ctx context.Context, name, repo string) (store.Node, error) {
	open, ok := b.openers[name]
	if !ok {
		if _, known := lookup(name); known {
			return nil, fmt.Errorf("backend %q not supported in this binary", name)
		}
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return open(ctx, repo)
}

// OpenWithConfig opens the named backend with cfg applied as flag values.
// Keys are the backend's flag names (e.g. "localfs-dir").
func OpenWithConfig(ctx context.Context, name string, usage Usage, repo string, cfg map[string]string) (store.Node, error) {
	b, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, fmt.Errorf("backend %q not supported in this binary", name)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	open := b.Flags(fs)
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fs.Lookup(k) == nil {
			return nil, fmt.Errorf("backend %q: unknown config key %q", name, k)
		}
		if err := fs.Set(k, cfg[k]); err != nil {
			return nil, fmt.Errorf("backend %q: config %q: %w", name, k, err)
		}
	}
	return open(ctx, repo)
}

func lookup(name string) (Backend, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := backends[name]
	return b, ok
}
