// Package client fetches content by identifier from a content-store node,
// enforcing a size limit while streaming and pinning what it retrieves.
//
// Every remote call is bounded by a per-call timeout. Read never returns an
// error: remote failures are classified into the FetchResult codes.
package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xdao.co/pinfetch/deadline"
	"xdao.co/pinfetch/store"
)

// DefaultTimeout bounds each remote call unless WithTimeout overrides it.
const DefaultTimeout = 10 * time.Second

// Client reads, writes and pins content through a single node handle.
// It is safe for concurrent use.
type Client struct {
	node         store.Node
	timeout      time.Duration
	readDeadline time.Duration
	log          *zap.Logger
	metrics      *Metrics
	stopped      atomic.Bool
}

type Option func(*Client)

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReadDeadline bounds a whole Read, across all stages, by d.
func WithReadDeadline(d time.Duration) Option {
	return func(c *Client) { c.readDeadline = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New wraps node. The client owns node from here on and stops it in Stop.
func New(node store.Node, opts ...Option) *Client {
	c := &Client{
		node:    node,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Node returns the underlying node handle.
func (c *Client) Node() store.Node { return c.node }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Read fetches id, accepting at most maxSize bytes, and pins it on success.
//
// Absent or unreadable metadata is NotFound. A declared or streamed size above
// maxSize is MaxSizeExceeded. Failure to open or iterate the content stream is
// NotAFile. A failed pin is logged and does not change a Success.
func (c *Client) Read(ctx context.Context, id string, maxSize int64) FetchResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxSize < 0 {
		maxSize = 0
	}
	res := c.read(ctx, id, maxSize)
	c.metrics.observeRead(res)
	c.log.Debug("read",
		zap.String("cid", id),
		zap.Int64("max_size", maxSize),
		zap.Stringer("code", res.Code),
		zap.Int("bytes", len(res.Content)),
	)
	return res
}

func (c *Client) read(ctx context.Context, id string, maxSize int64) FetchResult {
	if c.stopped.Load() {
		return failed(NotFound)
	}
	if c.readDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readDeadline)
		defer cancel()
	}

	st, err := guarded(ctx, c, "stat", func(ctx context.Context) (*store.ObjectStat, error) {
		return c.node.Stat(ctx, id)
	})
	if err != nil {
		c.log.Debug("stat failed", zap.String("cid", id), zap.Error(err))
		return failed(NotFound)
	}
	if st == nil || !st.HasDataSize {
		return failed(NotFound)
	}
	if st.DataSize > maxSize {
		return failed(MaxSizeExceeded)
	}

	content, code := c.fetch(ctx, id, maxSize)
	if code != Success {
		return failed(code)
	}

	if err := c.pin(ctx, id); err != nil {
		c.log.Warn("pin after read failed", zap.String("cid", id), zap.Error(err))
		c.metrics.pinFailed()
	}
	return FetchResult{Code: Success, Content: content}
}

func (c *Client) fetch(ctx context.Context, id string, maxSize int64) ([]byte, Code) {
	stream, err := guardedCleanup(ctx, c, "cat", func(ctx context.Context) (store.Stream, error) {
		return c.node.Cat(ctx, id)
	}, closeLate)
	if err != nil {
		c.log.Debug("cat failed", zap.String("cid", id), zap.Error(err))
		return nil, NotAFile
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.log.Debug("close stream", zap.String("cid", id), zap.Error(err))
		}
	}()

	var (
		chunks [][]byte
		total  int64
	)
	for {
		step, err := guarded(ctx, c, "next", stream.Next)
		if err != nil {
			c.log.Debug("stream failed", zap.String("cid", id), zap.Error(err))
			return nil, NotAFile
		}
		if step.Done {
			break
		}
		if step.Empty() {
			return nil, NotFound
		}
		total += int64(len(step.Chunk))
		if total > maxSize {
			return nil, MaxSizeExceeded
		}
		chunks = append(chunks, step.Chunk)
	}

	content := make([]byte, 0, total)
	for _, b := range chunks {
		content = append(content, b...)
	}
	return content, Success
}

// Write stores content and returns its identifier.
func (c *Client) Write(ctx context.Context, content []byte) (string, error) {
	if c.stopped.Load() {
		return "", ErrStopped
	}
	id, err := guarded(ctx, c, "add", func(ctx context.Context) (string, error) {
		return c.node.Add(ctx, content)
	})
	if err != nil {
		return "", fmt.Errorf("client: write: %w", err)
	}
	c.log.Debug("write", zap.String("cid", id), zap.Int("bytes", len(content)))
	return id, nil
}

// Pin marks id persistent in the node. Pinning twice is a no-op.
func (c *Client) Pin(ctx context.Context, id string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	if err := c.pin(ctx, id); err != nil {
		return fmt.Errorf("client: pin %s: %w", id, err)
	}
	return nil
}

func (c *Client) pin(ctx context.Context, id string) error {
	_, err := guarded(ctx, c, "pin", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.node.Pin(ctx, id)
	})
	return err
}

// Stop stops the node and releases the singleton slot if c holds it.
// Only the first call does any work.
func (c *Client) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	singleton.CompareAndSwap(c, nil)

	_, err := guarded(ctx, c, "stop", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.node.Stop(ctx)
	})
	if err != nil {
		return fmt.Errorf("client: stop: %w", err)
	}
	return nil
}

func guarded[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	return guardedCleanup(ctx, c, op, fn, nil)
}

// guardedCleanup is guarded with onLate applied to a result that arrives
// after the call was abandoned.
func guardedCleanup[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error), onLate func(T)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	v, err := deadline.RunCleanup(ctx, c.timeout, fn, onLate)
	c.metrics.observeCall(op, time.Since(start), err)
	return v, err
}

// closeLate closes a stream opened for a read that already gave up on it.
func closeLate(s store.Stream) {
	if s != nil {
		_ = s.Close()
	}
}
