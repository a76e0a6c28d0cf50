package stash

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
)

func TestAddStateAssignsIncrementingIDs(t *testing.T) {
	s := New()
	id1 := s.AddState(State{Message: "wip 1"}, hash.Root)
	id2 := s.AddState(State{Message: "wip 2"}, hash.Root)
	if id1 != 0 || id2 != 1 {
		t.Fatalf("expected ids 0 and 1, got %d and %d", id1, id2)
	}
}

func TestGetAndRemoveState(t *testing.T) {
	s := New()
	id := s.AddState(State{Message: "wip"}, hash.Root)
	entry, ok := s.GetState(id)
	if !ok || entry.State.Message != "wip" {
		t.Fatalf("expected to get back the shelved state")
	}
	removed, ok := s.RemoveState(id)
	if !ok || removed.State.Message != "wip" {
		t.Fatalf("expected RemoveState to return the shelved entry")
	}
	if _, ok := s.GetState(id); ok {
		t.Fatalf("expected the entry to be gone after removal")
	}
}

func TestTopmostTracksHighestID(t *testing.T) {
	s := New()
	s.AddState(State{Message: "first"}, hash.Root)
	s.AddState(State{Message: "second"}, hash.Root)
	top, ok := s.Topmost()
	if !ok || top.State.Message != "second" {
		t.Fatalf("expected topmost to be the most recently added entry")
	}
}

func TestClearDoesNotResetCounter(t *testing.T) {
	s := New()
	s.AddState(State{Message: "first"}, hash.Root)
	s.Clear()
	if !s.IsEmpty() {
		t.Fatalf("expected stash to be empty after Clear")
	}
	id := s.AddState(State{Message: "second"}, hash.Root)
	if id != 1 {
		t.Fatalf("expected the id counter to keep incrementing across Clear, got %d", id)
	}
}

func TestStashMsgpackRoundTrip(t *testing.T) {
	s := New()
	s.AddState(State{Message: "wip", Files: map[string]hash.ObjectHash{
		"a.go": hash.Of([]byte("a")),
	}}, hash.Root)

	data, err := msgpack.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := New()
	if err := msgpack.Unmarshal(data, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	entry, ok := got.GetState(0)
	if !ok || entry.State.Message != "wip" {
		t.Fatalf("expected round-tripped stash to preserve the shelved state")
	}
}
