package client

// Code is the outcome of a read. Exactly one code applies to every read.
type Code uint8

const (
	Success Code = iota
	NotFound
	MaxSizeExceeded
	NotAFile
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case MaxSizeExceeded:
		return "max_size_exceeded"
	case NotAFile:
		return "not_a_file"
	default:
		return "unknown"
	}
}

// FetchResult is the tagged outcome of Read.
//
// Content is non-nil only for Success, and then holds the complete payload.
type FetchResult struct {
	Code    Code
	Content []byte
}

// OK reports whether the read succeeded.
func (r FetchResult) OK() bool { return r.Code == Success }

func failed(code Code) FetchResult { return FetchResult{Code: code} }
