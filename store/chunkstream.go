package store

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/restic/chunker"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	// DefaultMinChunk is the smallest chunk NewReaderStream cuts, except the last.
	DefaultMinChunk = 256 * kiB
	// DefaultMaxChunk is the largest chunk NewReaderStream cuts.
	DefaultMaxChunk = 1 * miB
)

// Polynomial is the fixed Rabin polynomial used for chunk boundaries, so the
// same bytes always stream as the same chunks.
const Polynomial = chunker.Pol(0x3DA3358B4DC173)

// ChunkOptions sets the chunk boundaries of a ReaderStream. Zero fields take
// the defaults.
type ChunkOptions struct {
	MinSize uint
	MaxSize uint
}

// ReaderStream adapts an io.ReadCloser into a Stream using content-defined
// chunking.
type ReaderStream struct {
	rc  io.ReadCloser
	c   *chunker.Chunker
	buf []byte

	// wrapErr, when set, translates read errors into store errors.
	wrapErr func(error) error

	mu     sync.Mutex
	done   bool
	closed bool
}

// NewReaderStream returns a Stream over rc. Closing the stream closes rc.
func NewReaderStream(rc io.ReadCloser, opts ChunkOptions) *ReaderStream {
	if opts.MinSize == 0 {
		opts.MinSize = DefaultMinChunk
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultMaxChunk
	}
	if opts.MaxSize < opts.MinSize {
		opts.MaxSize = opts.MinSize
	}
	return &ReaderStream{
		rc:  rc,
		c:   chunker.NewWithBoundaries(rc, Polynomial, opts.MinSize, opts.MaxSize),
		buf: make([]byte, opts.MaxSize),
	}
}

// WithErrorMapper sets a function applied to every read error before it is
// returned from Next.
func (s *ReaderStream) WithErrorMapper(fn func(error) error) *ReaderStream {
	s.wrapErr = fn
	return s
}

func (s *ReaderStream) Next(ctx context.Context) (Step, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Step{}, err
		}
	}
	s.mu.Lock()
	done, closed := s.done, s.closed
	s.mu.Unlock()
	if done {
		return Done, nil
	}
	if closed {
		return Step{}, ErrStopped
	}

	ch, err := s.c.Next(s.buf)
	if errors.Is(err, io.EOF) {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		return Done, nil
	}
	if err != nil {
		if s.wrapErr != nil {
			err = s.wrapErr(err)
		}
		return Step{}, err
	}

	// ch.Data aliases s.buf, which the next call overwrites.
	out := make([]byte, len(ch.Data))
	copy(out, ch.Data)
	return Chunk(out), nil
}

func (s *ReaderStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.rc.Close()
}

// SliceStream is a Stream over pre-cut chunks. It is mostly useful for tests
// and for transports that already deliver framed chunks.
type SliceStream struct {
	mu     sync.Mutex
	chunks [][]byte
	pos    int
	closed bool
}

func NewSliceStream(chunks ...[]byte) *SliceStream {
	return &SliceStream{chunks: chunks}
}

func (s *SliceStream) Next(ctx context.Context) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Step{}, ErrStopped
	}
	if s.pos >= len(s.chunks) {
		return Done, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return Chunk(c), nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
