package graph

import (
	"testing"

	"asc.dev/asc/hash"
)

func TestNewContainsRootOrphan(t *testing.T) {
	g := New()
	if !g.Contains(hash.Root) {
		t.Fatalf("New() must contain the root sentinel")
	}
	parents, ok := g.GetParents(hash.Root)
	if !ok || len(parents) != 0 {
		t.Fatalf("root must be an orphan with no parents")
	}
}

func TestInsertRequiresExistingParent(t *testing.T) {
	g := Empty()
	h := hash.Of([]byte("child"))
	p := hash.Of([]byte("parent"))
	if err := g.Insert(h, p); err == nil {
		t.Fatalf("expected an error inserting against a missing parent")
	}
}

func TestInsertAndIsDescendant(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	c := hash.Of([]byte("c"))

	g.InsertOrphan(a)
	if err := g.Insert(b, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := g.Insert(c, b); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if !g.IsDescendant(c, a) {
		t.Fatalf("c should be a descendant of a")
	}
	if g.IsDescendant(a, c) {
		t.Fatalf("a should not be a descendant of c")
	}
	if !g.IsDescendant(a, a) {
		t.Fatalf("a hash is its own descendant")
	}
}

func TestRemovePrunesReferences(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	g.InsertOrphan(a)
	if err := g.Insert(b, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	g.Remove(a)
	if g.Contains(a) {
		t.Fatalf("a should have been removed")
	}
	parents, ok := g.GetParents(b)
	if !ok {
		t.Fatalf("b should still be present")
	}
	if _, stillThere := parents[a]; stillThere {
		t.Fatalf("removed hash must be pruned from children's parent sets")
	}
}

func TestUpsertReplacesParents(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	c := hash.Of([]byte("c"))
	g.InsertOrphan(a)
	g.InsertOrphan(b)
	if err := g.Insert(c, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	g.Upsert(c, []hash.ObjectHash{b})
	parents, ok := g.GetParents(c)
	if !ok {
		t.Fatalf("c should still exist")
	}
	if _, has := parents[a]; has {
		t.Fatalf("old parent a should have been replaced")
	}
	if _, has := parents[b]; !has {
		t.Fatalf("new parent b should be present")
	}
}

func TestInvertProducesChildMap(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	g.InsertOrphan(a)
	if err := g.Insert(b, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	inverted := g.Invert()
	children, ok := inverted[a]
	if !ok {
		t.Fatalf("expected a to have children in the inverted map")
	}
	if _, has := children[b]; !has {
		t.Fatalf("expected b to be a's child in the inverted map")
	}
}

func TestExtendUnionsEdges(t *testing.T) {
	g1 := New()
	a := hash.Of([]byte("a"))
	g1.InsertOrphan(a)

	g2 := Empty()
	b := hash.Of([]byte("b"))
	g2.InsertOrphan(b)

	g1.Extend(g2)
	if !g1.Contains(b) {
		t.Fatalf("expected extended graph to contain b")
	}
	if !g1.Contains(a) {
		t.Fatalf("expected extended graph to still contain a")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	g.InsertOrphan(a)
	if err := g.Insert(b, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := g.Insert(b, hash.Root); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	data, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Size() != g.Size() {
		t.Fatalf("size mismatch after round trip: %d != %d", got.Size(), g.Size())
	}
	parents, ok := got.GetParents(b)
	if !ok || len(parents) != 2 {
		t.Fatalf("expected b to round-trip with 2 parents, got %v (ok=%v)", parents, ok)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	g := New()
	a := hash.Of([]byte("a"))
	b := hash.Of([]byte("b"))
	c := hash.Of([]byte("c"))
	g.InsertOrphan(a)
	g.InsertOrphan(b)
	if err := g.Insert(c, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := g.Insert(c, b); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	first, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected deterministic encoding across repeated calls")
	}
}
