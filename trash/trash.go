// Package trash implements the repository's rubbish bin for snapshot
// hashes: an append-only log of directly-trashed hashes, with descendants
// of a trashed hash considered indirectly trashed by the graph they live in.
package trash

import (
	"time"

	"asc.dev/asc/hash"
)

// Status describes how a hash is found in the trash.
type Status int

const (
	// NotTrashed means the hash is not in the trash at all.
	NotTrashed Status = iota
	// StatusDirect means the hash itself was added to the trash.
	StatusDirect
	// StatusIndirect means the hash is a descendant, in the snapshot DAG, of
	// a hash that was directly trashed.
	StatusIndirect
)

// Entry records when a hash was moved to the trash. Timestamps are kept in
// UTC - a deliberate deviation from the original implementation's use of
// local time, so trash entries compare and serialize consistently across
// machines in different timezones.
type Entry struct {
	When time.Time       `msgpack:"when"`
	Hash hash.ObjectHash `msgpack:"hash"`
}

// Trash is an ordered list of directly-trashed hashes.
type Trash struct {
	Entries []Entry `msgpack:"entries"`
}

// New creates an empty Trash.
func New() *Trash {
	return &Trash{}
}

// Add records hash as trashed at the current moment (UTC). This does not
// include the hash's descendants - whether those are indirectly trashed is
// a question answered against the snapshot graph, not the Trash itself.
func (t *Trash) Add(h hash.ObjectHash) {
	t.Entries = append(t.Entries, Entry{When: time.Now().UTC(), Hash: h})
}

// Contains reports whether hash is directly in the trash (not indirectly,
// via a trashed ancestor).
func (t *Trash) Contains(h hash.ObjectHash) bool {
	for _, e := range t.Entries {
		if e.Hash == h {
			return true
		}
	}
	return false
}

// Remove deletes the first entry for hash, reporting whether one was found.
func (t *Trash) Remove(h hash.ObjectHash) bool {
	for i, e := range t.Entries {
		if e.Hash == h {
			t.Entries = append(t.Entries[:i], t.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the trash has no entries.
func (t *Trash) IsEmpty() bool {
	return len(t.Entries) == 0
}

// Size returns the number of directly-trashed entries.
func (t *Trash) Size() int {
	return len(t.Entries)
}
