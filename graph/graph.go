// Package graph implements the snapshot DAG: a map from each hash to its
// set of parent hashes, with reachability, inversion, and MessagePack
// persistence.
package graph

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
)

type parentSet = map[hash.ObjectHash]struct{}

// Graph is a node->parent-set map. Every parent referenced by any entry is
// itself a key (an orphan is a key with an empty parent set); the graph is
// required to stay acyclic.
type Graph struct {
	links map[hash.ObjectHash]parentSet
}

// New creates a Graph containing hash.Root as the sole orphan, representing
// "HEAD before any commit".
func New() *Graph {
	g := Empty()
	g.InsertOrphan(hash.Root)
	return g
}

// Empty creates a Graph with no nodes at all.
func Empty() *Graph {
	return &Graph{links: make(map[hash.ObjectHash]parentSet)}
}

// Insert connects hash to parent, failing if parent is not already present
// in the graph.
func (g *Graph) Insert(h, parent hash.ObjectHash) error {
	if !g.Contains(parent) {
		return fmt.Errorf("graph: parent %s does not exist in the graph", parent)
	}
	parents, ok := g.links[h]
	if !ok {
		parents = make(parentSet)
		g.links[h] = parents
	}
	parents[parent] = struct{}{}
	return nil
}

// InsertOrphan inserts h with no parents, typically used for a root
// snapshot.
func (g *Graph) InsertOrphan(h hash.ObjectHash) {
	g.links[h] = make(parentSet)
}

// Remove deletes h from the graph and prunes it from every other node's
// parent set, returning the parents h had before removal (or nil if it was
// not present). Unlike the original source - which skips pruning for
// performance - this follows the spec's DAG-closure invariant, which
// requires every referenced parent to remain a key; pruning keeps that
// invariant intact after a removal.
func (g *Graph) Remove(h hash.ObjectHash) parentSet {
	removed, ok := g.links[h]
	if !ok {
		return nil
	}
	delete(g.links, h)
	for _, parents := range g.links {
		delete(parents, h)
	}
	return removed
}

// Upsert replaces h's parent set with newParents, inserting h if absent.
// Returns the previous parent set, if any.
func (g *Graph) Upsert(h hash.ObjectHash, newParents []hash.ObjectHash) parentSet {
	previous, existed := g.links[h]
	set := make(parentSet, len(newParents))
	for _, p := range newParents {
		set[p] = struct{}{}
	}
	g.links[h] = set
	if !existed {
		return nil
	}
	return previous
}

// GetParents returns the parent set of h and whether h is present.
func (g *Graph) GetParents(h hash.ObjectHash) (parentSet, bool) {
	parents, ok := g.links[h]
	return parents, ok
}

// Contains reports whether h is a key in the graph.
func (g *Graph) Contains(h hash.ObjectHash) bool {
	_, ok := g.links[h]
	return ok
}

// Size returns the number of nodes in the graph.
func (g *Graph) Size() int {
	return len(g.links)
}

// IterHashes returns every hash in the graph, in no particular order.
func (g *Graph) IterHashes() []hash.ObjectHash {
	out := make([]hash.ObjectHash, 0, len(g.links))
	for h := range g.links {
		out = append(out, h)
	}
	return out
}

// IsDescendant reports whether b is reachable from a by following parent
// edges - i.e. whether b is a itself or an ancestor of a. Implemented as a
// BFS over parent edges starting from a.
func (g *Graph) IsDescendant(a, b hash.ObjectHash) bool {
	queue := []hash.ObjectHash{a}
	seen := map[hash.ObjectHash]struct{}{a: {}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == b {
			return true
		}
		for parent := range g.links[next] {
			if _, visited := seen[parent]; visited {
				continue
			}
			seen[parent] = struct{}{}
			queue = append(queue, parent)
		}
	}
	return false
}

// Invert produces the parent->set(children) map, the reverse adjacency of
// the graph.
func (g *Graph) Invert() map[hash.ObjectHash]map[hash.ObjectHash]struct{} {
	inverted := make(map[hash.ObjectHash]map[hash.ObjectHash]struct{}, len(g.links))
	for child, parents := range g.links {
		if _, ok := inverted[child]; !ok {
			inverted[child] = make(map[hash.ObjectHash]struct{})
		}
		for parent := range parents {
			children, ok := inverted[parent]
			if !ok {
				children = make(map[hash.ObjectHash]struct{})
				inverted[parent] = children
			}
			children[child] = struct{}{}
		}
	}
	return inverted
}

// Extend unions other's edges into g, overwriting any hash that exists in
// both with other's parent set.
func (g *Graph) Extend(other *Graph) {
	for h, parents := range other.links {
		set := make(parentSet, len(parents))
		for p := range parents {
			set[p] = struct{}{}
		}
		g.links[h] = set
	}
}

type wireEntry struct {
	Hash    hash.ObjectHash   `msgpack:"hash"`
	Parents []hash.ObjectHash `msgpack:"parents"`
}

// wireGraph is the on-disk encoding: a slice of (hash, sorted parents)
// entries, so the MessagePack bytes are deterministic across loads despite
// Go's randomized map iteration order.
type wireGraph struct {
	Entries []wireEntry `msgpack:"entries"`
}

func (g *Graph) toWire() wireGraph {
	hashes := g.IterHashes()
	out := make([]wireEntry, 0, len(hashes))
	for _, h := range sortedHashes(hashes) {
		out = append(out, wireEntry{Hash: h, Parents: hash.Sorted(g.links[h])})
	}
	return wireGraph{Entries: out}
}

func sortedHashes(hs []hash.ObjectHash) []hash.ObjectHash {
	set := make(map[hash.ObjectHash]struct{}, len(hs))
	for _, h := range hs {
		set[h] = struct{}{}
	}
	return hash.Sorted(set)
}

func fromWire(w wireGraph) *Graph {
	g := Empty()
	for _, entry := range w.Entries {
		set := make(parentSet, len(entry.Parents))
		for _, p := range entry.Parents {
			set[p] = struct{}{}
		}
		g.links[entry.Hash] = set
	}
	return g
}

// Encode serializes the graph to MessagePack bytes.
func (g *Graph) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(g.toWire())
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return data, nil
}

// Decode parses MessagePack bytes produced by Encode.
func Decode(data []byte) (*Graph, error) {
	var w wireGraph
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return fromWire(w), nil
}

// FromFile loads a Graph previously written by ToFile.
func FromFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	return Decode(data)
}

// ToFile writes the graph to path as MessagePack.
func (g *Graph) ToFile(path string) error {
	data, err := g.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write graph %s: %w", path, err)
	}
	return nil
}
