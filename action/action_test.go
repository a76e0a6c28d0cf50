package action

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
	"asc.dev/asc/key"
)

func TestInverseTable(t *testing.T) {
	h1 := hash.Of([]byte("a"))
	h2 := hash.Of([]byte("b"))
	var pub key.PublicKey

	cases := []Action{
		CreateBranch("main", h1),
		DeleteBranch("main", h1),
		MoveBranch("main", h1, h2),
		RenameBranch(h1, "old", "new"),
		SwitchVersion(h1, h2),
		CreateTag("v1", h1),
		RemoveTag("v1", h1),
		RenameTag("old", "new", h1),
		TrashAdd(h1),
		TrashRecover(h1),
		OpenAccount("alice", pub),
		CloseAccount("alice", pub),
		RenameAccount("old", "new", pub),
	}

	for _, a := range cases {
		inv, err := Inverse(a)
		if err != nil {
			t.Fatalf("Inverse(%v): %v", a, err)
		}
		back, err := Inverse(inv)
		if err != nil {
			t.Fatalf("Inverse(Inverse(%v)): %v", a, err)
		}
		if back != a {
			t.Fatalf("double inverse should be identity: %v != %v", back, a)
		}
		if inv == a {
			t.Fatalf("inverse of %v should differ from itself", a)
		}
	}
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory()
	h1 := hash.Of([]byte("a"))
	h2 := hash.Of([]byte("b"))

	h.Push(CreateBranch("main", h1))
	h.Push(MoveBranch("main", h1, h2))

	cur, ok := h.Current()
	if !ok || cur.Kind != KindMoveBranch {
		t.Fatalf("expected current to be the move action")
	}

	undone, ok := h.Undo()
	if !ok || undone.Kind != KindMoveBranch {
		t.Fatalf("expected undo to return the move action")
	}
	cur, ok = h.Current()
	if !ok || cur.Kind != KindCreateBranch {
		t.Fatalf("expected current to now be the create action")
	}

	redone, ok := h.Redo()
	if !ok || redone.Kind != KindMoveBranch {
		t.Fatalf("expected redo to restore the move action")
	}

	if _, ok := h.Redo(); ok {
		t.Fatalf("expected redo to fail at the top of the stack")
	}
}

func TestPushTruncatesRedoStack(t *testing.T) {
	h := NewHistory()
	h1 := hash.Of([]byte("a"))
	h2 := hash.Of([]byte("b"))
	h3 := hash.Of([]byte("c"))

	h.Push(CreateBranch("main", h1))
	h.Push(MoveBranch("main", h1, h2))
	if _, ok := h.Undo(); !ok {
		t.Fatalf("expected undo to succeed")
	}
	h.Push(MoveBranch("main", h1, h3))

	if _, ok := h.Redo(); ok {
		t.Fatalf("expected redo to be unavailable after a new push truncated it")
	}
	done, redoable := h.AsSlices()
	if len(done) != 2 || len(redoable) != 0 {
		t.Fatalf("expected 2 done actions and 0 redoable, got %d/%d", len(done), len(redoable))
	}
}

func TestHistoryMsgpackRoundTrip(t *testing.T) {
	h := NewHistory()
	h.Push(CreateBranch("main", hash.Of([]byte("a"))))
	h.Push(CreateTag("v1", hash.Of([]byte("b"))))
	if _, ok := h.Undo(); !ok {
		t.Fatalf("expected undo to succeed")
	}

	data, err := msgpack.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NewHistory()
	if err := msgpack.Unmarshal(data, got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	done, redoable := got.AsSlices()
	if len(done) != 1 || len(redoable) != 1 {
		t.Fatalf("expected 1 done and 1 redoable after round trip, got %d/%d", len(done), len(redoable))
	}
}
