package hash

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	if a != b {
		t.Fatalf("Of is not deterministic: %x != %x", a, b)
	}
}

func TestStringIsShortPrefixOfFull(t *testing.T) {
	h := Of([]byte("print('hello')"))
	full := h.Full()
	if len(full) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(full))
	}
	if h.String() != full[:10] {
		t.Fatalf("short form %q is not a prefix of full form %q", h.String(), full)
	}
}

func TestRootIsZero(t *testing.T) {
	if !Root.IsZero() {
		t.Fatalf("Root must be the all-zero sentinel")
	}
}

func TestFromHexRoundTrip(t *testing.T) {
	h := Of([]byte("roundtrip"))
	got, err := FromHex(h.Full())
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got != h {
		t.Fatalf("FromHex round trip mismatch: %x != %x", got, h)
	}
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	if _, err := FromHex("ab"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestSortedIsByteLexicographic(t *testing.T) {
	set := map[ObjectHash]struct{}{
		Of([]byte("c")): {},
		Of([]byte("a")): {},
		Of([]byte("b")): {},
	}
	sorted := Sorted(set)
	if len(sorted) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if !Less(sorted[i-1], sorted[i]) {
			t.Fatalf("Sorted output is not strictly increasing at index %d", i)
		}
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	h := Of([]byte("msgpack"))
	data, err := msgpack.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ObjectHash
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("msgpack round trip mismatch: %x != %x", got, h)
	}
}
