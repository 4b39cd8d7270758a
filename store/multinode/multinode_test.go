package multinode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/memnode"
	"xdao.co/pinfetch/store/testkit"
)

func pair(t *testing.T, policy Policy) (*Node, *memnode.Node, *memnode.Node) {
	t.Helper()
	a := memnode.New(memnode.Options{})
	b := memnode.New(memnode.Options{})
	n, err := New(policy, Named{Name: "a", Node: a}, Named{Name: "b", Node: b})
	require.NoError(t, err)
	return n, a, b
}

func TestMultiNode_Conformance(t *testing.T) {
	for _, policy := range []Policy{WriteFirst, WriteAll} {
		t.Run(string(policy), func(t *testing.T) {
			testkit.RunNodeConformance(t, func(t *testing.T) store.Node {
				n, _, _ := pair(t, policy)
				return n
			})
		})
	}
}

func TestMultiNode_New(t *testing.T) {
	_, err := New(WriteFirst)
	require.Error(t, err)
	_, err = New(WriteFirst, Named{Name: "nil"})
	require.Error(t, err)
	_, err = New("sometimes", Named{Name: "a", Node: memnode.New(memnode.Options{})})
	require.Error(t, err)

	n, err := New("", Named{Name: "a", Node: memnode.New(memnode.Options{})})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, n.Backends())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, WriteFirst, p)
	p, err = ParsePolicy("all")
	require.NoError(t, err)
	require.Equal(t, WriteAll, p)
	_, err = ParsePolicy("most")
	require.Error(t, err)
}

func TestMultiNode_ReadsFallBackInOrder(t *testing.T) {
	ctx := context.Background()
	n, a, b := pair(t, WriteFirst)

	id, err := b.Add(ctx, []byte("only in b"))
	require.NoError(t, err)
	_, err = a.Stat(ctx, id)
	require.True(t, store.IsNotFound(err))

	st, err := n.Stat(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, len("only in b"), st.DataSize)

	s, err := n.Cat(ctx, id)
	require.NoError(t, err)
	got, err := testkit.ReadAll(ctx, s)
	require.NoError(t, err)
	require.Equal(t, "only in b", string(got))
}

func TestMultiNode_WriteFirstOnlyTouchesFirst(t *testing.T) {
	ctx := context.Background()
	n, a, b := pair(t, WriteFirst)

	id, err := n.Add(ctx, []byte("first only"))
	require.NoError(t, err)
	_, err = a.Stat(ctx, id)
	require.NoError(t, err)
	_, err = b.Stat(ctx, id)
	require.True(t, store.IsNotFound(err))
}

func TestMultiNode_WriteAllReplicates(t *testing.T) {
	ctx := context.Background()
	n, a, b := pair(t, WriteAll)

	id, per, err := n.AddAll(ctx, []byte("everywhere"))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": id, "b": id}, per)
	for _, node := range []*memnode.Node{a, b} {
		_, err := node.Stat(ctx, id)
		require.NoError(t, err)
	}
}

type liar struct{ store.Node }

func (liar) Add(context.Context, []byte) (string, error) { return "bafkqaaa", nil }

func TestMultiNode_WriteAllDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	a := memnode.New(memnode.Options{})
	n, err := New(WriteAll, Named{Name: "a", Node: a}, Named{Name: "liar", Node: liar{a}})
	require.NoError(t, err)

	_, per, err := n.AddAll(ctx, []byte("x"))
	require.ErrorIs(t, err, store.ErrCIDMismatch)
	require.Contains(t, per, "liar")
}

func TestMultiNode_PinWhereHeld(t *testing.T) {
	ctx := context.Background()
	n, a, b := pair(t, WriteFirst)

	id, err := b.Add(ctx, []byte("pinned in b"))
	require.NoError(t, err)
	require.NoError(t, n.Pin(ctx, id))
	require.True(t, b.Pinned(ctx, id))
	require.False(t, a.Pinned(ctx, id))

	err = n.Pin(ctx, cidutil.CIDv1RawSHA256([]byte("nowhere")))
	require.True(t, store.IsNotFound(err), "got %v", err)
}

type brokenPin struct{ store.Node }

func (brokenPin) Pin(context.Context, string) error { return errors.New("disk full") }

func TestMultiNode_PinReportsFailures(t *testing.T) {
	ctx := context.Background()
	a := memnode.New(memnode.Options{})
	n, err := New(WriteFirst, Named{Name: "broken", Node: brokenPin{a}})
	require.NoError(t, err)

	id, err := n.Add(ctx, []byte("x"))
	require.NoError(t, err)
	require.ErrorContains(t, n.Pin(ctx, id), "disk full")
}
