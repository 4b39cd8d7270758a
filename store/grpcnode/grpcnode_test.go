package grpcnode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/pinfetch/cidutil"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/memnode"
	"xdao.co/pinfetch/store/testkit"
)

func serve(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	RegisterNodeServer(s, srv)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	client := NewClient(cc)
	client.Timeout = 2 * time.Second
	return client
}

func TestGRPCNode_Conformance(t *testing.T) {
	testkit.RunNodeConformance(t, func(t *testing.T) store.Node {
		t.Helper()
		return serve(t, &Server{Node: memnode.New(memnode.Options{})})
	})
}

func TestGRPCNode_DirectoryIsNotAFile(t *testing.T) {
	ctx := context.Background()
	backend := memnode.New(memnode.Options{})
	client := serve(t, &Server{Node: backend})

	leaf, err := backend.Add(ctx, []byte("leaf"))
	require.NoError(t, err)
	dir, err := backend.AddDirectory(ctx, []string{leaf})
	require.NoError(t, err)

	st, err := client.Stat(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, store.TypeDirectory, st.Type)

	stream, err := client.Cat(ctx, dir)
	require.NoError(t, err)
	_, err = testkit.ReadAll(ctx, stream)
	require.True(t, store.IsNotAFile(err), "got %v", err)
}

func TestGRPCNode_PinReachesBackend(t *testing.T) {
	ctx := context.Background()
	backend := memnode.New(memnode.Options{})
	client := serve(t, &Server{Node: backend})

	id, err := client.Add(ctx, []byte("remote pin"))
	require.NoError(t, err)
	require.NoError(t, client.Pin(ctx, id))
	require.True(t, backend.Pinned(ctx, id))
}

func TestGRPCNode_CatOutlivesCallContext(t *testing.T) {
	backend := memnode.New(memnode.Options{})
	client := serve(t, &Server{Node: backend})

	id, err := backend.Add(context.Background(), []byte("streamed after cancel"))
	require.NoError(t, err)

	callCtx, cancel := context.WithCancel(context.Background())
	stream, err := client.Cat(callCtx, id)
	require.NoError(t, err)
	cancel()

	got, err := testkit.ReadAll(context.Background(), stream)
	require.NoError(t, err)
	require.Equal(t, "streamed after cancel", string(got))
}

type emptyStepNode struct {
	store.Node
}

type emptyStepStream struct{}

func (emptyStepStream) Next(context.Context) (store.Step, error) { return store.Step{}, nil }
func (emptyStepStream) Close() error                             { return nil }

func (emptyStepNode) Cat(context.Context, string) (store.Stream, error) {
	return emptyStepStream{}, nil
}

func TestGRPCNode_EmptyStepCrossesTheWire(t *testing.T) {
	ctx := context.Background()
	client := serve(t, &Server{Node: emptyStepNode{Node: memnode.New(memnode.Options{})}})

	stream, err := client.Cat(ctx, cidutil.CIDv1RawSHA256([]byte("anything")))
	require.NoError(t, err)
	step, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, step.Empty())
	require.NoError(t, stream.Close())
}

func TestGRPCNode_RemoteStop(t *testing.T) {
	ctx := context.Background()

	backend := memnode.New(memnode.Options{})
	client := serve(t, &Server{Node: backend})
	client.StopRemote = true
	require.Error(t, client.Stop(ctx), "server refuses remote stop by default")

	backend = memnode.New(memnode.Options{})
	client = serve(t, &Server{Node: backend, AllowStop: true})
	client.StopRemote = true
	require.NoError(t, client.Stop(ctx))
	_, err := backend.Add(ctx, []byte("x"))
	require.ErrorIs(t, err, store.ErrStopped)
}
