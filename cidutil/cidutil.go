package cidutil

import (
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	return sum(cid.Raw, data)
}

// DirectoryCID returns a CIDv1 (dag-pb + sha2-256) naming a directory node
// whose children are links, in order.
//
// The node encoding is newline-joined child CID strings. It is not a UnixFS
// encoding; it only needs to be stable so the same children always name the
// same directory.
func DirectoryCID(links []cid.Cid) (cid.Cid, error) {
	return sum(cid.DagProtobuf, EncodeLinks(links))
}

// EncodeLinks returns the byte form DirectoryCID hashes.
func EncodeLinks(links []cid.Cid) []byte {
	parts := make([]string, 0, len(links))
	for _, l := range links {
		parts = append(parts, l.String())
	}
	return []byte(strings.Join(parts, "\n"))
}

// IsFile reports whether id names a raw leaf.
func IsFile(id cid.Cid) bool {
	return id.Defined() && id.Type() == cid.Raw
}

// IsDirectory reports whether id names a dag-pb node.
func IsDirectory(id cid.Cid) bool {
	return id.Defined() && id.Type() == cid.DagProtobuf
}

// Verify reports whether data hashes to id under id's own codec.
func Verify(id cid.Cid, data []byte) bool {
	if !id.Defined() {
		return false
	}
	got, err := sum(id.Type(), data)
	if err != nil {
		return false
	}
	return got.Equals(id)
}

func sum(codec uint64, data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec, mh), nil
}
