package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/localfs"
)

// DefaultRepo is the node repo CreateSingleton opens when no override is given.
const DefaultRepo = ".pinfetch"

// Opener opens the node a singleton wraps.
type Opener func(ctx context.Context, repo string) (store.Node, error)

var (
	singleton atomic.Pointer[Client]

	openerMu sync.RWMutex
	opener   Opener = openLocalFS
)

func openLocalFS(_ context.Context, repo string) (store.Node, error) {
	return localfs.New(repo)
}

// SetOpener replaces the opener used by CreateSingleton and returns a func
// that restores the previous one.
func SetOpener(o Opener) (restore func()) {
	openerMu.Lock()
	defer openerMu.Unlock()
	prev := opener
	if o == nil {
		o = openLocalFS
	}
	opener = o
	return func() {
		openerMu.Lock()
		opener = prev
		openerMu.Unlock()
	}
}

func currentOpener() Opener {
	openerMu.RLock()
	defer openerMu.RUnlock()
	return opener
}

// CreateSingleton opens a node at repoOverride (DefaultRepo when empty) and
// installs a client for it as the process-wide instance.
//
// It fails with ErrAlreadyExists while another instance is live. When two
// callers race, exactly one is installed; the other's node is stopped.
func CreateSingleton(ctx context.Context, repoOverride string, opts ...Option) (*Client, error) {
	if singleton.Load() != nil {
		return nil, ErrAlreadyExists
	}
	if ctx == nil {
		ctx = context.Background()
	}
	repo := repoOverride
	if repo == "" {
		repo = DefaultRepo
	}
	node, err := currentOpener()(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("client: open node at %q: %w", repo, err)
	}

	c := New(node, opts...)
	if !singleton.CompareAndSwap(nil, c) {
		_ = node.Stop(context.WithoutCancel(ctx))
		return nil, ErrAlreadyExists
	}
	return c, nil
}

// GetSingleton returns the live instance. It never creates one.
func GetSingleton() (*Client, error) {
	c := singleton.Load()
	if c == nil {
		return nil, ErrNotInitialized
	}
	return c, nil
}
