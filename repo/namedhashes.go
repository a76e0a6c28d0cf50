package repo

import (
	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
)

// NamedHashes is a name->hash map used for both branches and tags.
type NamedHashes struct {
	inner map[string]hash.ObjectHash
}

// NewNamedHashes creates an empty NamedHashes map.
func NewNamedHashes() *NamedHashes {
	return &NamedHashes{inner: make(map[string]hash.ObjectHash)}
}

// Create sets name to point at h, returning the previous hash if name
// already existed.
func (n *NamedHashes) Create(name string, h hash.ObjectHash) (hash.ObjectHash, bool) {
	old, existed := n.inner[name]
	n.inner[name] = h
	return old, existed
}

// Get returns the hash name points at.
func (n *NamedHashes) Get(name string) (hash.ObjectHash, bool) {
	h, ok := n.inner[name]
	return h, ok
}

// Contains reports whether name exists.
func (n *NamedHashes) Contains(name string) bool {
	_, ok := n.inner[name]
	return ok
}

// Rename moves a name's hash to a new name, reporting whether it made a
// change (false if old did not exist).
func (n *NamedHashes) Rename(old, new string) bool {
	h, ok := n.inner[old]
	if !ok {
		return false
	}
	delete(n.inner, old)
	n.inner[new] = h
	return true
}

// Remove deletes name, returning the hash it pointed at if present.
func (n *NamedHashes) Remove(name string) (hash.ObjectHash, bool) {
	h, ok := n.inner[name]
	if ok {
		delete(n.inner, name)
	}
	return h, ok
}

// Entry is a single name/hash pair, returned by Iter.
type Entry struct {
	Name string
	Hash hash.ObjectHash
}

// Iter returns every (name, hash) pair, in no particular order.
func (n *NamedHashes) Iter() []Entry {
	out := make([]Entry, 0, len(n.inner))
	for name, h := range n.inner {
		out = append(out, Entry{Name: name, Hash: h})
	}
	return out
}

// Names returns every name, in no particular order.
func (n *NamedHashes) Names() []string {
	out := make([]string, 0, len(n.inner))
	for name := range n.inner {
		out = append(out, name)
	}
	return out
}

// Hashes returns every hash, in no particular order.
func (n *NamedHashes) Hashes() []hash.ObjectHash {
	out := make([]hash.ObjectHash, 0, len(n.inner))
	for _, h := range n.inner {
		out = append(out, h)
	}
	return out
}

func (n *NamedHashes) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(n.Iter())
}

func (n *NamedHashes) DecodeMsgpack(dec *msgpack.Decoder) error {
	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		return err
	}
	inner := make(map[string]hash.ObjectHash, len(entries))
	for _, e := range entries {
		inner[e.Name] = e.Hash
	}
	n.inner = inner
	return nil
}
