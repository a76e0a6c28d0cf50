package repo

import (
	"fmt"

	"asc.dev/asc/hash"
	"asc.dev/asc/internal/ascerr"
)

// ValidateHistory walks every snapshot reachable from a branch tip,
// confirming the commit history is intact: graph parents match the
// signed parent set, every author is a known user, every signature
// verifies, and every file's content is present in the blob store.
func (r *Repository) ValidateHistory() error {
	queue := r.Branches.Hashes()
	visited := make(map[hash.ObjectHash]struct{}, len(queue))

	for len(queue) > 0 {
		current := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		snap, err := r.FetchSnapshot(current)
		if err != nil {
			return fmt.Errorf("validate history: %w", err)
		}

		parents, ok := r.History.GetParents(current)
		if !ok {
			return ascerr.New(ascerr.CodeMissingParent, fmt.Sprintf("validate history: cannot get parents for hash %s", current))
		}
		if !sameParentSet(parents, snap.Parents) {
			return ascerr.New(ascerr.CodeCorruptRepository, fmt.Sprintf("validate history: snapshot %s has invalid parents (parents in graph differ from parents in signature)", current))
		}

		author := snap.Signature.Key
		if _, ok := r.Users.GetUser(author); !ok {
			return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("validate history: snapshot %s was created by an unknown user (key %x matches no user)", current, author.Bytes()))
		}

		if err := snap.Verify(); err != nil {
			return fmt.Errorf("validate history: %w", err)
		}

		for _, fileHash := range snap.Files {
			if !r.Store.Has(fileHash) {
				return ascerr.New(ascerr.CodeCorruptRepository, fmt.Sprintf("validate history: snapshot %s references missing content %s", current, fileHash))
			}
		}

		for p := range parents {
			queue = append(queue, p)
		}
	}

	return nil
}

func sameParentSet(a, b map[hash.ObjectHash]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for h := range a {
		if _, ok := b[h]; !ok {
			return false
		}
	}
	return true
}
