// Package content implements the object store: compressed literal blobs and
// similarity-gated delta chains, addressed by the SHA-256 hash of their
// fully-resolved bytes.
package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"

	"asc.dev/asc/hash"
)

// MinDeltaSimilarity is the word-level similarity ratio below which a delta
// is rejected in favor of storing a fresh Literal.
const MinDeltaSimilarity = 0.65

type Kind string

const (
	KindLiteral Kind = "literal"
	KindDelta   Kind = "delta"
)

// Content is the on-disk tagged union for a stored blob. Literal holds
// deflate-compressed bytes; Delta holds a patch against another content
// hash (the substitute, documented in DESIGN.md, for xdelta3).
type Content struct {
	Kind     Kind            `msgpack:"kind"`
	Literal  []byte          `msgpack:"literal,omitempty"`
	Original hash.ObjectHash `msgpack:"original,omitempty"`
	Edit     []byte          `msgpack:"edit,omitempty"`
}

func NewLiteral(raw []byte) Content {
	return Content{Kind: KindLiteral, Literal: compress(raw)}
}

func newDelta(original hash.ObjectHash, edit []byte) Content {
	return Content{Kind: KindDelta, Original: original, Edit: edit}
}

func compress(raw []byte) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = w.Write(raw)
	_ = w.Close()
	return buf.Bytes()
}

func decompress(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress content: %w", err)
	}
	return out, nil
}

// wordSimilarity computes the difflib word-level SequenceMatcher ratio
// between two texts, the Go analogue of the source's
// similar::TextDiff::from_words(...).ratio().
func wordSimilarity(a, b string) float64 {
	matcher := difflib.NewMatcher(strings.Fields(a), strings.Fields(b))
	return matcher.Ratio()
}

// encodeDelta produces a diffmatchpatch patch transforming original into
// updated, serialized to bytes.
func encodeDelta(original, updated string) []byte {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, updated, false)
	patches := dmp.PatchMake(original, diffs)
	return []byte(dmp.PatchToText(patches))
}

// decodeDelta applies a serialized patch to original's bytes, failing if any
// hunk doesn't apply cleanly.
func decodeDelta(original string, edit []byte) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(string(edit))
	if err != nil {
		return "", fmt.Errorf("decode delta patch: %w", err)
	}
	result, applied := dmp.PatchApply(patches, original)
	for _, ok := range applied {
		if !ok {
			return "", fmt.Errorf("decode delta patch: a hunk failed to apply cleanly")
		}
	}
	return result, nil
}
