package setrecon

import (
	"crypto/sha256"
	"sort"
	"testing"

	"asc.dev/asc/hash"
)

func hashOf(s string) hash.ObjectHash {
	return hash.Of([]byte(s))
}

func reconcile(t *testing.T, local, remote []hash.ObjectHash) (localOnly, remoteOnly []hash.ObjectHash) {
	t.Helper()

	enc := NewEncoder(remote)
	dec := NewDecoder(local)

	const safetyLimit = 4096
	for i := 0; i < safetyLimit; i++ {
		dec.AddSymbol(enc.Next())
		if dec.IsDone() {
			return dec.Consume()
		}
	}
	t.Fatalf("reconciliation did not converge within %d symbols", safetyLimit)
	return nil, nil
}

func sortedStrings(hs []hash.ObjectHash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	sort.Strings(out)
	return out
}

func assertSameSet(t *testing.T, got []hash.ObjectHash, want []hash.ObjectHash) {
	t.Helper()
	g := sortedStrings(got)
	w := sortedStrings(want)
	if len(g) != len(w) {
		t.Fatalf("got %v, want %v", g, w)
	}
	for i := range g {
		if g[i] != w[i] {
			t.Fatalf("got %v, want %v", g, w)
		}
	}
}

func TestReconcileIdenticalSetsYieldsNoDifference(t *testing.T) {
	common := []hash.ObjectHash{hashOf("a"), hashOf("b"), hashOf("c")}
	localOnly, remoteOnly := reconcile(t, common, common)
	if len(localOnly) != 0 || len(remoteOnly) != 0 {
		t.Fatalf("expected no difference, got localOnly=%v remoteOnly=%v", localOnly, remoteOnly)
	}
}

func TestReconcileDisjointSingleElementEachSide(t *testing.T) {
	common := []hash.ObjectHash{hashOf("a"), hashOf("b")}
	local := append(append([]hash.ObjectHash{}, common...), hashOf("local-only"))
	remote := append(append([]hash.ObjectHash{}, common...), hashOf("remote-only"))

	localOnly, remoteOnly := reconcile(t, local, remote)
	assertSameSet(t, localOnly, []hash.ObjectHash{hashOf("local-only")})
	assertSameSet(t, remoteOnly, []hash.ObjectHash{hashOf("remote-only")})
}

func TestReconcileManyDifferencesSpanningGenerations(t *testing.T) {
	var common, local, remote []hash.ObjectHash
	for i := 0; i < 20; i++ {
		h := sha256.Sum256([]byte{byte(i)})
		common = append(common, hash.ObjectHash(h))
	}
	var wantLocal, wantRemote []hash.ObjectHash
	for i := 0; i < 15; i++ {
		h := hashOf("only-local-" + string(rune('a'+i)))
		wantLocal = append(wantLocal, h)
	}
	for i := 0; i < 15; i++ {
		h := hashOf("only-remote-" + string(rune('a'+i)))
		wantRemote = append(wantRemote, h)
	}

	local = append(append([]hash.ObjectHash{}, common...), wantLocal...)
	remote = append(append([]hash.ObjectHash{}, common...), wantRemote...)

	localOnly, remoteOnly := reconcile(t, local, remote)
	assertSameSet(t, localOnly, wantLocal)
	assertSameSet(t, remoteOnly, wantRemote)
}

func TestReconcileEmptyLocalAgainstNonEmptyRemote(t *testing.T) {
	remote := []hash.ObjectHash{hashOf("x"), hashOf("y")}
	localOnly, remoteOnly := reconcile(t, nil, remote)
	if len(localOnly) != 0 {
		t.Fatalf("expected no local-only hashes, got %v", localOnly)
	}
	assertSameSet(t, remoteOnly, remote)
}
