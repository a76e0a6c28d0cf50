package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"asc.dev/asc/hash"
	"asc.dev/asc/internal/ascerr"
	"asc.dev/asc/snapshot"
)

func (r *Repository) cwdDiffersFromSnapshot(files map[string]hash.ObjectHash) (bool, error) {
	for _, path := range r.StagedFiles {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(r.RootDir, path)
		}
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return true, nil
		}

		raw, err := os.ReadFile(full)
		if err != nil {
			return false, fmt.Errorf("read path %s: %w", full, err)
		}
		currentHash := hash.Of(raw)

		rel, err := filepath.Rel(r.RootDir, full)
		if err != nil {
			rel = path
		}
		previousHash, ok := files[rel]
		if !ok {
			return true, nil
		}
		if previousHash != currentHash {
			return true, nil
		}
	}
	return false, nil
}

// HasUnsavedChanges reports whether the working directory diverges from
// both the current snapshot and every snapshot held in the stash.
func (r *Repository) HasUnsavedChanges() (bool, error) {
	current, err := r.FetchCurrentSnapshot()
	if err != nil {
		return false, fmt.Errorf("has unsaved changes: %w", err)
	}

	differs, err := r.cwdDiffersFromSnapshot(current.Files)
	if err != nil {
		return false, err
	}
	if !differs {
		return false, nil
	}

	for _, entry := range r.Stash.IterEntries() {
		differs, err := r.cwdDiffersFromSnapshot(entry.State.Files)
		if err != nil {
			return false, err
		}
		if !differs {
			return false, nil
		}
	}

	return true, nil
}

// ReplaceCwdWithSnapshot overwrites the working directory to match snap's
// files, refusing if there are unsaved changes.
func (r *Repository) ReplaceCwdWithSnapshot(snap *snapshot.Snapshot) error {
	unsaved, err := r.HasUnsavedChanges()
	if err != nil {
		return fmt.Errorf("replace working directory: %w", err)
	}
	if unsaved {
		return ascerr.New(ascerr.CodeUnsavedChanges, "replace working directory: refusing to overwrite unsaved changes")
	}
	return r.ReplaceCwdWithFiles(snap.Files)
}

// ReplaceCwdWithFiles overwrites the working directory to match files,
// deleting tracked paths absent from files (and any directories this leaves
// empty, up to RootDir) and writing out any path whose hash differs from the
// current snapshot's. A path whose hash equals the current snapshot's is not
// rewritten, whatever is on disk. It does not check for unsaved changes -
// use ReplaceCwdWithSnapshot for that.
func (r *Repository) ReplaceCwdWithFiles(files map[string]hash.ObjectHash) error {
	current, err := r.FetchCurrentSnapshot()
	if err != nil {
		return fmt.Errorf("replace working directory: %w", err)
	}

	for path := range current.Files {
		if _, stillPresent := files[path]; stillPresent {
			continue
		}
		full := filepath.Join(r.RootDir, path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replace working directory: remove %s: %w", full, err)
		}
		for dir := filepath.Dir(full); len(dir) > len(r.RootDir); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}

	staged := make([]string, 0, len(files))
	for path, newHash := range files {
		full := filepath.Join(r.RootDir, path)
		staged = append(staged, full)

		if oldHash, ok := current.Files[path]; ok && oldHash == newHash {
			continue
		}

		text, err := r.Store.FetchString(newHash)
		if err != nil {
			return fmt.Errorf("replace working directory: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("replace working directory: %w", err)
		}
		if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
			return fmt.Errorf("replace working directory: write %s: %w", full, err)
		}
	}

	r.StagedFiles = staged
	return nil
}

// ListChanges compares the working directory against the current
// snapshot, classifying every relevant path as added, removed, edited,
// unchanged, or missing.
func (r *Repository) ListChanges() ([]FileChange, error) {
	current, err := r.FetchCurrentSnapshot()
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}

	oldPaths := make(map[string]struct{}, len(current.Files))
	for p := range current.Files {
		oldPaths[p] = struct{}{}
	}

	newPaths := make(map[string]struct{}, len(r.StagedFiles))
	relStaged := make(map[string]string, len(r.StagedFiles))
	for _, full := range r.StagedFiles {
		rel, err := filepath.Rel(r.RootDir, full)
		if err != nil {
			rel = full
		}
		newPaths[rel] = struct{}{}
		relStaged[rel] = full
	}

	var changes []FileChange

	for p := range newPaths {
		if _, existed := oldPaths[p]; !existed {
			changes = append(changes, FileChange{Kind: ChangeAdded, Path: p})
		}
	}
	for p := range oldPaths {
		if _, stillStaged := newPaths[p]; !stillStaged {
			changes = append(changes, FileChange{Kind: ChangeRemoved, Path: p})
		}
	}
	for p := range newPaths {
		full := relStaged[p]
		if _, err := os.Stat(full); os.IsNotExist(err) {
			changes = append(changes, FileChange{Kind: ChangeMissing, Path: p})
		}
	}

	for path, oldHash := range current.Files {
		full := filepath.Join(r.RootDir, path)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			continue
		}
		raw, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("list changes: read %s: %w", full, err)
		}
		if hash.Of(raw) == oldHash {
			changes = append(changes, FileChange{Kind: ChangeUnchanged, Path: path})
		} else {
			changes = append(changes, FileChange{Kind: ChangeEdited, Path: path})
		}
	}

	return changes, nil
}
