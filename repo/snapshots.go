package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
	"asc.dev/asc/internal/ascerr"
	"asc.dev/asc/snapshot"
)

// FetchSnapshot loads and verifies the snapshot stored at h.
func (r *Repository) FetchSnapshot(h hash.ObjectHash) (*snapshot.Snapshot, error) {
	path := r.hashToPath(h)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", h, err)
	}
	var snap snapshot.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: decode: %w", h, err)
	}
	if err := snap.Verify(); err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", h, err)
	}
	return &snap, nil
}

// FetchCurrentSnapshot loads the snapshot HEAD currently points at.
func (r *Repository) FetchCurrentSnapshot() (*snapshot.Snapshot, error) {
	return r.FetchSnapshot(r.CurrentHash)
}

func (r *Repository) hashToPath(h hash.ObjectHash) string {
	full := h.Full()
	return filepath.Join(r.BlobsDir(), full[:2], full[2:])
}

// SaveSnapshot rehashes and persists snap, inserting its parent edges into
// the DAG and refusing to save a snapshot from an unknown author or with
// an invalid signature.
func (r *Repository) SaveSnapshot(snap *snapshot.Snapshot) error {
	snap.Rehash()

	for parent := range snap.Parents {
		if err := r.History.Insert(snap.Hash, parent); err != nil {
			return fmt.Errorf("save snapshot %s: %w", snap.Hash, err)
		}
	}

	if _, ok := r.Users.GetUser(snap.Signature.Key); !ok {
		return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("save snapshot %s: authored by an unknown user", snap.Hash))
	}

	if err := snap.Verify(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Hash, err)
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("save snapshot %s: encode: %w", snap.Hash, err)
	}
	if err := writeFileAtomic(r.hashToPath(snap.Hash), data, 0o644); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Hash, err)
	}
	return nil
}

// CommitCurrentState assembles a new Snapshot from the repository's staged
// files, saving their content to the blob store and chaining the new
// snapshot off the current HEAD. It does not itself call SaveSnapshot or
// move HEAD - callers typically pass the result to AppendSnapshot.
func (r *Repository) CommitCurrentState(message string) (*snapshot.Snapshot, error) {
	usr, ok := r.CurrentUser()
	if !ok {
		return nil, ascerr.New(ascerr.CodeNoCurrentUser, "commit current state: no valid current user")
	}
	if usr.PrivateKey == nil {
		return nil, ascerr.New(ascerr.CodeNoCurrentUser, "commit current state: current user has no private key")
	}

	base, err := r.FetchCurrentSnapshot()
	if err != nil {
		return nil, fmt.Errorf("commit current state: %w", err)
	}

	files := make(map[string]hash.ObjectHash, len(r.StagedFiles))
	for _, path := range r.StagedFiles {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("commit current state: read %s: %w", path, err)
		}
		text := string(raw)
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			rel = path
		}
		var basis *hash.ObjectHash
		if h, ok := base.Files[rel]; ok {
			basis = &h
		}
		h, err := r.Store.SaveContent(text, basis)
		if err != nil {
			return nil, fmt.Errorf("commit current state: %w", err)
		}
		files[rel] = h
	}

	parents := map[hash.ObjectHash]struct{}{r.CurrentHash: {}}
	snap, err := snapshot.New(*usr.PrivateKey, message, time.Now().UTC(), files, parents)
	if err != nil {
		return nil, fmt.Errorf("commit current state: %w", err)
	}
	return snap, nil
}
