// Package snapshot implements signed snapshots: an author, a message, a
// timestamp, an ordered file manifest, and a parent set, hashed together and
// signed by the author's private key.
package snapshot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"asc.dev/asc/hash"
	"asc.dev/asc/key"
)

// Snapshot is a point-in-time capture of a workspace. Files does not carry
// file content directly - only a hash resolved later through the content
// store - to keep large trees cheap to hold in memory.
type Snapshot struct {
	Hash      hash.ObjectHash            `msgpack:"hash"`
	Author    key.PublicKey              `msgpack:"author"`
	Message   string                     `msgpack:"message"`
	Timestamp time.Time                  `msgpack:"timestamp"`
	Files     map[string]hash.ObjectHash `msgpack:"files"`
	Parents   map[hash.ObjectHash]struct{} `msgpack:"parents"`
	Signature key.Signature              `msgpack:"signature"`
}

// hashFromParts computes the content hash of a snapshot's fields. Files are
// hashed in lexicographic path order and parents in byte-lexicographic
// hash order (hash.Sorted) so the result is reproducible regardless of Go's
// randomized map iteration - this sorts parents where the original source
// iterated a HashSet in non-deterministic order.
func hashFromParts(
	author key.PublicKey,
	message string,
	timestamp time.Time,
	files map[string]hash.ObjectHash,
	parents map[hash.ObjectHash]struct{},
) hash.ObjectHash {
	h := sha256.New()
	h.Write(author.Bytes())
	h.Write([]byte(message))

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp.Unix()))
	h.Write(tsBuf[:])

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		h.Write([]byte(p))
		fh := files[p]
		h.Write(fh.Bytes())
	}

	for _, p := range hash.Sorted(parents) {
		h.Write(p.Bytes())
	}

	var out hash.ObjectHash
	copy(out[:], h.Sum(nil))
	return out
}

// New builds and signs a Snapshot. creator must be the private key
// corresponding to the intended author.
func New(
	creator key.PrivateKey,
	message string,
	timestamp time.Time,
	files map[string]hash.ObjectHash,
	parents map[hash.ObjectHash]struct{},
) (*Snapshot, error) {
	author := creator.PublicKey()
	h := hashFromParts(author, message, timestamp, files, parents)
	sig, err := creator.Sign(h.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign snapshot: %w", err)
	}
	return &Snapshot{
		Hash:      h,
		Author:    author,
		Message:   message,
		Timestamp: timestamp,
		Files:     files,
		Parents:   parents,
		Signature: sig,
	}, nil
}

// Rehash recomputes Hash from the current fields. The signature is left
// untouched, so a caller that mutates a snapshot and rehashes it must
// re-sign (or explicitly accept an unsigned/stale-signed state) - mirroring
// the original implementation, which never re-signs automatically.
func (s *Snapshot) Rehash() {
	s.Hash = hashFromParts(s.Author, s.Message, s.Timestamp, s.Files, s.Parents)
}

// IsValid reports whether the stored hash matches the current fields and the
// signature verifies against it. It never returns an error; use Verify to
// see why a snapshot is invalid.
func (s *Snapshot) IsValid() bool {
	h := hashFromParts(s.Author, s.Message, s.Timestamp, s.Files, s.Parents)
	if s.Hash != h {
		return false
	}
	return s.Signature.Verify(h.Bytes())
}

// Verify checks the snapshot's signature, returning a descriptive error on
// failure.
func (s *Snapshot) Verify() error {
	h := hashFromParts(s.Author, s.Message, s.Timestamp, s.Files, s.Parents)
	if s.Hash != h {
		return fmt.Errorf("snapshot %s: stored hash does not match recomputed hash", s.Hash)
	}
	if err := s.Signature.Check(h.Bytes()); err != nil {
		return fmt.Errorf("snapshot %s: signature check failed: %w", s.Hash, err)
	}
	return nil
}
