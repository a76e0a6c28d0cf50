package content

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
)

// Store persists Content blobs at <root>/.asc/blobs/<xx>/<rest>, matching
// the teacher's path-sharded blob layout in node/blockstore.go.
type Store struct {
	blobsDir string
}

// Open prepares a Store rooted at blobsDir, pre-creating the 256 top-level
// shard directories if they don't already exist.
func Open(blobsDir string) (*Store, error) {
	for x := 0; x <= 0xff; x++ {
		dir := filepath.Join(blobsDir, hex.EncodeToString([]byte{byte(x)}))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob shard %s: %w", dir, err)
		}
	}
	return &Store{blobsDir: blobsDir}, nil
}

func (s *Store) pathFor(h hash.ObjectHash) string {
	full := h.Full()
	return filepath.Join(s.blobsDir, full[:2], full[2:])
}

// SaveObject writes a Content value at the path derived from h, most often
// used to persist objects received from network transfer where the hash is
// already known.
func (s *Store) SaveObject(obj Content, h hash.ObjectHash) error {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode content %s: %w", h, err)
	}
	path := s.pathFor(h)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write content %s: %w", h, err)
	}
	return nil
}

// FetchObject loads the raw Content record for h without resolving deltas.
func (s *Store) FetchObject(h hash.ObjectHash) (Content, error) {
	path := s.pathFor(h)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("read content %s at %s: %w", h, path, err)
	}
	var c Content
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return Content{}, fmt.Errorf("decode content %s: %w", h, err)
	}
	return c, nil
}

// Has reports whether a blob exists at h's path without reading it.
func (s *Store) Has(h hash.ObjectHash) bool {
	_, err := os.Stat(s.pathFor(h))
	return err == nil
}

// Resolve recursively applies delta patches until a Literal is reached,
// returning the fully-resolved bytes.
func (s *Store) Resolve(c Content) ([]byte, error) {
	switch c.Kind {
	case KindLiteral:
		return decompress(c.Literal)
	case KindDelta:
		base, err := s.FetchObject(c.Original)
		if err != nil {
			return nil, fmt.Errorf("resolve delta base %s: %w", c.Original, err)
		}
		baseBytes, err := s.Resolve(base)
		if err != nil {
			return nil, err
		}
		resolved, err := decodeDelta(string(baseBytes), c.Edit)
		if err != nil {
			return nil, fmt.Errorf("resolve delta against base %s: %w", c.Original, err)
		}
		return []byte(resolved), nil
	default:
		return nil, fmt.Errorf("resolve: unknown content kind %q", c.Kind)
	}
}

// FetchString fetches and resolves the content at h, returning it as text.
func (s *Store) FetchString(h hash.ObjectHash) (string, error) {
	obj, err := s.FetchObject(h)
	if err != nil {
		return "", err
	}
	raw, err := s.Resolve(obj)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SaveRaw stores text as a compressed Literal, returning the SHA-256 hash of
// the uncompressed bytes.
func (s *Store) SaveRaw(text string) (hash.ObjectHash, error) {
	h := hash.Of([]byte(text))
	if err := s.SaveObject(NewLiteral([]byte(text)), h); err != nil {
		return hash.ObjectHash{}, err
	}
	return h, nil
}

// SaveDelta stores text as a delta against basis provided the word-level
// similarity ratio meets MinDeltaSimilarity; otherwise it returns
// (zero, false, nil) so the caller can fall back to SaveRaw.
func (s *Store) SaveDelta(text string, basis hash.ObjectHash) (hash.ObjectHash, bool, error) {
	original, err := s.FetchString(basis)
	if err != nil {
		return hash.ObjectHash{}, false, fmt.Errorf("save delta: fetch basis %s: %w", basis, err)
	}
	if wordSimilarity(original, text) < MinDeltaSimilarity {
		return hash.ObjectHash{}, false, nil
	}
	h, err := s.SaveDeltaUnchecked(text, basis)
	if err != nil {
		return hash.ObjectHash{}, false, err
	}
	return h, true, nil
}

// SaveDeltaUnchecked stores text as a delta against basis regardless of
// similarity. Prefer SaveDelta or the higher-level SaveContent.
func (s *Store) SaveDeltaUnchecked(text string, basis hash.ObjectHash) (hash.ObjectHash, error) {
	original, err := s.FetchString(basis)
	if err != nil {
		return hash.ObjectHash{}, fmt.Errorf("save delta unchecked: fetch basis %s: %w", basis, err)
	}
	h := hash.Of([]byte(text))
	edit := encodeDelta(original, text)
	if err := s.SaveObject(newDelta(basis, edit), h); err != nil {
		return hash.ObjectHash{}, err
	}
	return h, nil
}

// SaveContent is the high-level write path: it stores text as a delta
// against basis when provided and similar enough, or as a Literal
// otherwise.
func (s *Store) SaveContent(text string, basis *hash.ObjectHash) (hash.ObjectHash, error) {
	if basis == nil {
		return s.SaveRaw(text)
	}
	if h, ok, err := s.SaveDelta(text, *basis); err != nil {
		return hash.ObjectHash{}, err
	} else if ok {
		return h, nil
	}
	return s.SaveRaw(text)
}
