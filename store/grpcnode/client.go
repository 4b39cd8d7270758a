package grpcnode

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/pinfetch/store"
)

// Client implements store.Node over the Node gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client NodeClient

	// Timeout applies per unary RPC when non-zero. Cat streams are bounded by
	// their consumer, not by Timeout.
	Timeout time.Duration

	// StopRemote makes Stop also stop the served node. Otherwise Stop only
	// releases the connection.
	StopRemote bool

	stopped atomic.Bool
}

var _ store.Node = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options appended after the defaults (e.g. a custom dialer).
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection. Stop closes it.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewNodeClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Stat(ctx context.Context, id string) (*store.ObjectStat, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Stat(ctx, wrapperspb.String(id))
	if err != nil {
		return nil, mapRPC(err)
	}
	return decodeStat(reply), nil
}

func (c *Client) Cat(ctx context.Context, id string) (store.Stream, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	// The stream lives until Close, past the context of this call.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rs, err := c.client.Cat(streamCtx, wrapperspb.String(id))
	if err != nil {
		cancel()
		return nil, mapRPC(err)
	}
	return &catStream{rs: rs, cancel: cancel}, nil
}

func (c *Client) Add(ctx context.Context, data []byte) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Add(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	if reply.GetValue() == "" {
		return "", store.ErrInvalidCID
	}
	return reply.GetValue(), nil
}

func (c *Client) Pin(ctx context.Context, id string) error {
	if err := c.ready(); err != nil {
		return err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	_, err := c.client.Pin(ctx, wrapperspb.String(id))
	return mapRPC(err)
}

func (c *Client) Stop(ctx context.Context) error {
	if c == nil || c.stopped.Swap(true) {
		return nil
	}
	var stopErr error
	if c.StopRemote && c.client != nil {
		cctx, cancel := c.ctx(ctx)
		_, err := c.client.Stop(cctx, &emptypb.Empty{})
		cancel()
		stopErr = mapRPC(err)
	}
	return errors.Join(stopErr, c.Close())
}

func (c *Client) ready() error {
	if c == nil || c.client == nil {
		return store.ErrStopped
	}
	if c.stopped.Load() {
		return store.ErrStopped
	}
	return nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

type catStream struct {
	rs     Node_CatClient
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

func (s *catStream) Next(ctx context.Context) (store.Step, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return store.Done, nil
	}

	m, err := s.rs.Recv()
	if errors.Is(err, io.EOF) {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		return store.Done, nil
	}
	if err != nil {
		if isEmptyStep(err) {
			return store.Step{}, nil
		}
		return store.Step{}, mapRPC(err)
	}
	return store.Chunk(m.GetValue()), nil
}

func (s *catStream) Close() error {
	s.cancel()
	return nil
}
