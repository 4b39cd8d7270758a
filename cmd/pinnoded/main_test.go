package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/store/grpcnode"
	"xdao.co/pinfetch/store/memnode"
)

func TestServerServesClientAndCountsRPCs(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := newRPCMetrics(reg)

	backend := memnode.New(memnode.Options{})
	s := newServer(backend, false, zap.NewNop(), m)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	c := client.New(grpcnode.NewClient(cc), client.WithTimeout(2*time.Second))
	id, err := c.Write(ctx, []byte("over the wire"))
	require.NoError(t, err)

	res := c.Read(ctx, id, 100)
	require.Equal(t, client.Success, res.Code)
	require.Equal(t, "over the wire", string(res.Content))
	require.True(t, backend.Pinned(ctx, id))

	require.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("Add", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("Stat", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("Cat", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("Pin", "OK")))

	require.Equal(t, client.NotFound, c.Read(ctx, "not-a-cid", 100).Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("Stat", "InvalidArgument")))
}

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--list-backends"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.Contains(t, out.String(), "localfs\t")
	require.Contains(t, out.String(), "mem\t")
	require.NotContains(t, out.String(), "grpc\t", "the gRPC client backend is CLI-only")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out, errOut bytes.Buffer
	code := run(ctx, []string{"--backend", "mem", "--listen", "127.0.0.1:0", "--metrics-addr", "127.0.0.1:0", "--log-level", "error"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
}

func TestRunRejectsBadInput(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 1, run(context.Background(), []string{"--backend", "nope", "--listen", "127.0.0.1:0"}, &out, &errOut))
	require.Contains(t, errOut.String(), "unknown backend")

	errOut.Reset()
	require.Equal(t, 1, run(context.Background(), []string{"--log-format", "xml"}, &out, &errOut))
}
