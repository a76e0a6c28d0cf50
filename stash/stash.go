// Package stash implements the repository's workspace shelf: a snapshot of
// uncommitted state set aside under an integer id, independent of the
// signed snapshot history.
package stash

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
)

// State is the shelved workspace content: a message and a file manifest,
// mirroring a Snapshot's shape but with no author, hash, or signature since
// a stash entry never enters the signed history.
type State struct {
	Message string                     `msgpack:"message"`
	Files   map[string]hash.ObjectHash `msgpack:"files"`
}

// Entry is a shelved State together with the snapshot it was taken against
// and when it was shelved.
type Entry struct {
	State     State           `msgpack:"state"`
	Basis     hash.ObjectHash `msgpack:"basis"`
	Timestamp time.Time       `msgpack:"timestamp"`
}

// Stash holds shelved entries keyed by an incrementing integer id - ids are
// local bookkeeping, not cryptographic identity, so there is no need for
// hash-based addressing here.
type Stash struct {
	entries map[int]Entry
	count   int
}

// New creates an empty Stash.
func New() *Stash {
	return &Stash{entries: make(map[int]Entry)}
}

// AddState shelves state against basis, returning its new id.
func (s *Stash) AddState(state State, basis hash.ObjectHash) int {
	id := s.count
	s.entries[id] = Entry{State: state, Basis: basis, Timestamp: time.Now().UTC()}
	s.count++
	return id
}

// GetState returns the entry stored under id.
func (s *Stash) GetState(id int) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// RemoveState deletes and returns the entry stored under id.
func (s *Stash) RemoveState(id int) (Entry, bool) {
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return e, ok
}

// IterEntries returns every shelved entry, in no particular order.
func (s *Stash) IterEntries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// IDs returns every id currently in use, in no particular order.
func (s *Stash) IDs() []int {
	out := make([]int, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

// IsEmpty reports whether nothing is shelved.
func (s *Stash) IsEmpty() bool {
	return len(s.entries) == 0
}

// Clear empties the stash. The id counter is not reset, so ids already
// handed out are never reused.
func (s *Stash) Clear() {
	s.entries = make(map[int]Entry)
}

// TopmostID returns the highest id in use, if any.
func (s *Stash) TopmostID() (int, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	max := 0
	first := true
	for id := range s.entries {
		if first || id > max {
			max = id
			first = false
		}
	}
	return max, true
}

// Topmost returns the most recently added entry, if any.
func (s *Stash) Topmost() (Entry, bool) {
	id, ok := s.TopmostID()
	if !ok {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

type wireEntry struct {
	ID    int   `msgpack:"id"`
	Entry Entry `msgpack:"entry"`
}

type wireStash struct {
	Entries []wireEntry `msgpack:"entries"`
	Count   int         `msgpack:"count"`
}

func (s *Stash) toWire() wireStash {
	out := make([]wireEntry, 0, len(s.entries))
	for _, id := range s.IDs() {
		out = append(out, wireEntry{ID: id, Entry: s.entries[id]})
	}
	return wireStash{Entries: out, Count: s.count}
}

func (s *Stash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(s.toWire())
}

func (s *Stash) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wireStash
	if err := dec.Decode(&w); err != nil {
		return err
	}
	entries := make(map[int]Entry, len(w.Entries))
	for _, e := range w.Entries {
		entries[e.ID] = e.Entry
	}
	s.entries = entries
	s.count = w.Count
	return nil
}
