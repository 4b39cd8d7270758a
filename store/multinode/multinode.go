// Package multinode composes several nodes into one with ordered fallback.
//
// Reads try backends in slice order; callers must supply a fixed order.
// Writes go to the first backend, or to every backend under WriteAll.
package multinode

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
)

type Policy string

const (
	// WriteFirst writes only to the first backend.
	WriteFirst Policy = "first"
	// WriteAll writes to every backend and requires identical identifiers.
	WriteAll Policy = "all"
)

// ParsePolicy accepts "", "first" and "all". Empty means WriteFirst.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", WriteFirst:
		return WriteFirst, nil
	case WriteAll:
		return WriteAll, nil
	default:
		return "", fmt.Errorf("multinode: invalid write policy %q", s)
	}
}

// Named associates a node with a stable backend name.
type Named struct {
	Name string
	Node store.Node
}

type Node struct {
	backends []Named
	policy   Policy
}

var _ store.Node = (*Node)(nil)

func New(policy Policy, backends ...Named) (*Node, error) {
	if len(backends) == 0 {
		return nil, errors.New("multinode: no backends")
	}
	for _, b := range backends {
		if b.Node == nil {
			return nil, fmt.Errorf("multinode: nil node for backend %q", b.Name)
		}
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = WriteFirst
	}
	return &Node{backends: append([]Named(nil), backends...), policy: policy}, nil
}

// Backends returns the backend names in fallback order.
func (m *Node) Backends() []string {
	out := make([]string, 0, len(m.backends))
	for _, b := range m.backends {
		out = append(out, b.Name)
	}
	return out
}

func (m *Node) Stat(ctx context.Context, id string) (*store.ObjectStat, error) {
	for _, b := range m.backends {
		st, err := b.Node.Stat(ctx, id)
		if err == nil {
			return st, nil
		}
		if !store.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, store.ErrNotFound
}

func (m *Node) Cat(ctx context.Context, id string) (store.Stream, error) {
	for _, b := range m.backends {
		s, err := b.Node.Cat(ctx, id)
		if err == nil {
			return s, nil
		}
		if !store.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, store.ErrNotFound
}

func (m *Node) Add(ctx context.Context, data []byte) (string, error) {
	if m.policy == WriteAll {
		id, _, err := m.AddAll(ctx, data)
		return id, err
	}
	return m.backends[0].Node.Add(ctx, data)
}

// AddAll writes data to every backend.
//
// It returns the identifier computed locally from data and, per backend name,
// the identifier that backend returned. A backend that disagrees yields
// ErrCIDMismatch along with the identifiers collected so far.
func (m *Node) AddAll(ctx context.Context, data []byte) (string, map[string]string, error) {
	want := cidutil.CIDv1RawSHA256(data)
	out := make(map[string]string, len(m.backends))
	for _, b := range m.backends {
		got, err := b.Node.Add(ctx, data)
		if err != nil {
			return "", out, fmt.Errorf("multinode: add to %s: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return "", out, store.ErrCIDMismatch
		}
	}
	return want, out, nil
}

// Pin pins id on every backend that holds it. It fails with ErrNotFound only
// when no backend holds id.
func (m *Node) Pin(ctx context.Context, id string) error {
	var (
		pinned bool
		errs   []error
	)
	for _, b := range m.backends {
		err := b.Node.Pin(ctx, id)
		switch {
		case err == nil:
			pinned = true
		case store.IsNotFound(err):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	if pinned {
		return nil
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return store.ErrNotFound
}

// Stop stops every backend, in reverse order.
func (m *Node) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.backends) - 1; i >= 0; i-- {
		if err := m.backends[i].Node.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.backends[i].Name, err))
		}
	}
	return errors.Join(errs...)
}
