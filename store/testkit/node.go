package testkit

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
)

// NewNode constructs a fresh, empty node for a test.
// The returned node MUST be isolated from other tests.
type NewNode func(t *testing.T) store.Node

// ReadAll drains s and closes it.
func ReadAll(ctx context.Context, s store.Stream) ([]byte, error) {
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
		buf.Write(step.Chunk)
	}
}

func RunNodeConformance(t *testing.T, newNode NewNode) {
	t.Helper()
	ctx := context.Background()

	t.Run("AddStatCatRoundTrip", func(t *testing.T) {
		node := newNode(t)
		want := []byte("hello, pinfetch node")

		id, err := node.Add(ctx, want)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if id != cidutil.CIDv1RawSHA256(want) {
			t.Fatalf("Add CID mismatch: got %s want %s", id, cidutil.CIDv1RawSHA256(want))
		}

		st, err := node.Stat(ctx, id)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if st == nil || !st.HasDataSize || st.DataSize != int64(len(want)) {
			t.Fatalf("Stat size: got %+v want %d", st, len(want))
		}
		if st.Type != store.TypeFile {
			t.Fatalf("Stat type: got %s want file", st.Type)
		}

		s, err := node.Cat(ctx, id)
		if err != nil {
			t.Fatalf("Cat failed: %v", err)
		}
		got, err := ReadAll(ctx, s)
		if err != nil {
			t.Fatalf("Cat read failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Cat bytes mismatch")
		}
	})

	t.Run("AddIdempotent", func(t *testing.T) {
		node := newNode(t)
		b := []byte("same bytes")

		id1, err := node.Add(ctx, b)
		if err != nil {
			t.Fatalf("Add(1) failed: %v", err)
		}
		id2, err := node.Add(ctx, b)
		if err != nil {
			t.Fatalf("Add(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Add not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("EmptyContent", func(t *testing.T) {
		node := newNode(t)
		id, err := node.Add(ctx, []byte{})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		st, err := node.Stat(ctx, id)
		if err != nil || st == nil || !st.HasDataSize || st.DataSize != 0 {
			t.Fatalf("Stat empty: got %+v, %v", st, err)
		}
		s, err := node.Cat(ctx, id)
		if err != nil {
			t.Fatalf("Cat failed: %v", err)
		}
		got, err := ReadAll(ctx, s)
		if err != nil {
			t.Fatalf("Cat read failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty content, got %d bytes", len(got))
		}
	})

	t.Run("StatMissing", func(t *testing.T) {
		node := newNode(t)
		id := cidutil.CIDv1RawSHA256([]byte("missing"))
		st, err := node.Stat(ctx, id)
		if err == nil && st != nil {
			t.Fatalf("Stat missing: got %+v want not found", st)
		}
		if err != nil && !store.IsNotFound(err) {
			t.Fatalf("Stat missing: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("RejectInvalidCID", func(t *testing.T) {
		node := newNode(t)
		if st, err := node.Stat(ctx, "not-a-cid"); err == nil && st != nil {
			t.Fatalf("Stat should fail for an invalid CID")
		}
		if s, err := node.Cat(ctx, "not-a-cid"); err == nil {
			if _, err := ReadAll(ctx, s); err == nil {
				t.Fatalf("Cat should fail for an invalid CID")
			}
		}
	})

	t.Run("PinIdempotent", func(t *testing.T) {
		node := newNode(t)
		id, err := node.Add(ctx, []byte("pin me"))
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := node.Pin(ctx, id); err != nil {
			t.Fatalf("Pin(1) failed: %v", err)
		}
		if err := node.Pin(ctx, id); err != nil {
			t.Fatalf("Pin(2) failed: %v", err)
		}
	})

	t.Run("StopThenFail", func(t *testing.T) {
		node := newNode(t)
		id, err := node.Add(ctx, []byte("before stop"))
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := node.Stop(ctx); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if _, err := node.Stat(ctx, id); err == nil {
			t.Fatalf("Stat after Stop should fail")
		}
		if _, err := node.Add(ctx, []byte("after stop")); err == nil {
			t.Fatalf("Add after Stop should fail")
		}
		if err := node.Pin(ctx, id); err == nil {
			t.Fatalf("Pin after Stop should fail")
		}
	})
}
