package store

import "context"

// Node is the content-store node the client talks to.
//
// Contract:
// - Stat MUST return ErrNotFound (or a nil stat) when the identifier is absent.
// - Cat MUST fail with ErrNotAFile, either when opening or while iterating,
//   when the identifier names something that is not a retrievable file.
// - Add MUST be idempotent and return the identifier of the bytes written.
// - Pin MUST be add-if-absent: pinning a pinned identifier is not an error.
// - After Stop, every other call MUST fail with ErrStopped.
type Node interface {
	Stat(ctx context.Context, id string) (*ObjectStat, error)
	Cat(ctx context.Context, id string) (Stream, error)
	Add(ctx context.Context, data []byte) (string, error)
	Pin(ctx context.Context, id string) error
	Stop(ctx context.Context) error
}

// ObjectType distinguishes files from non-file objects.
type ObjectType uint8

const (
	TypeUnknown ObjectType = iota
	TypeFile
	TypeDirectory
)

func (t ObjectType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// ParseObjectType is the inverse of ObjectType.String.
func ParseObjectType(s string) ObjectType {
	switch s {
	case "file":
		return TypeFile
	case "directory":
		return TypeDirectory
	default:
		return TypeUnknown
	}
}

// ObjectStat is the metadata a node reports for an identifier.
//
// HasDataSize is false when the node could not determine the payload size;
// callers treat such metadata as unusable.
type ObjectStat struct {
	CID         string
	Type        ObjectType
	DataSize    int64
	HasDataSize bool
}

// Stream is a finite, non-restartable sequence of content chunks.
type Stream interface {
	// Next returns the next step. After a Done step, Next keeps returning Done.
	Next(ctx context.Context) (Step, error)
	Close() error
}

// Step is one pull from a Stream: either a chunk or the end of the stream.
//
// The zero Step is neither; it reports a stream that produced nothing where a
// chunk was expected.
type Step struct {
	Chunk []byte
	Done  bool
}

// Chunk returns a step carrying b.
func Chunk(b []byte) Step {
	if b == nil {
		b = []byte{}
	}
	return Step{Chunk: b}
}

// Done is the terminal step.
var Done = Step{Done: true}

// Empty reports whether s carries neither a chunk nor completion.
func (s Step) Empty() bool { return !s.Done && s.Chunk == nil }
