// Package hash implements the content-addressing primitive: a 32-byte
// SHA-256 object identity shared by content blobs and snapshots.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

const Size = 32

// ObjectHash is a raw 32-byte SHA-256 digest used as a content-addressed key.
type ObjectHash [Size]byte

// Root is the all-zero sentinel hash: the conventional parent of the very
// first snapshot, and the orphan every fresh Graph starts with.
var Root ObjectHash

// Of hashes arbitrary bytes into an ObjectHash.
func Of(b []byte) ObjectHash {
	return ObjectHash(sha256.Sum256(b))
}

// String renders the short form: the first 10 hex characters.
func (h ObjectHash) String() string {
	return h.Full()[:10]
}

// Full renders the entire 64 hex characters.
func (h ObjectHash) Full() string {
	return hex.EncodeToString(h[:])
}

func (h ObjectHash) Bytes() []byte {
	return h[:]
}

func (h ObjectHash) IsZero() bool {
	return h == Root
}

// Less provides the byte-lexicographic ordering used to make snapshot
// parent-hashing and hash-set iteration deterministic.
func Less(a, b ObjectHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Sorted returns the hashes in a set sorted byte-lexicographically.
func Sorted(set map[ObjectHash]struct{}) []ObjectHash {
	out := make([]ObjectHash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// FromHex parses a full 64-character hex string into an ObjectHash.
func FromHex(s string) (ObjectHash, error) {
	var h ObjectHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode object hash %q: %w", s, err)
	}
	if len(raw) != Size {
		return h, fmt.Errorf("object hash %q: expected %d bytes, got %d", s, Size, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// EncodeMsgpack and DecodeMsgpack implement msgpack.CustomEncoder /
// CustomDecoder so the hash round-trips as a raw 32-byte binary string
// instead of as a hex string or a 32-element array.
func (h ObjectHash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(h[:])
}

func (h *ObjectHash) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(raw) != Size {
		return fmt.Errorf("object hash: expected %d bytes, got %d", Size, len(raw))
	}
	copy(h[:], raw)
	return nil
}
