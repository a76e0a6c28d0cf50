// Package repo implements the Repository aggregate: the top-level object
// owning the snapshot DAG, branches/tags, trash, stash, users, staged
// files, and the current-user/current-hash cursors, along with the
// workspace reconciliation and commit/undo-redo operations built on top of
// it.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	"asc.dev/asc/action"
	"asc.dev/asc/content"
	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/internal/ascerr"
	"asc.dev/asc/key"
	"asc.dev/asc/snapshot"
	"asc.dev/asc/stash"
	"asc.dev/asc/trash"
	"asc.dev/asc/user"
)

// Repository is the top-level aggregate owning all repository state. A
// *Repository is handed to the sync layer as a shared, mutually-exclusive
// handle - callers needing concurrent access should hold mu for the
// duration of a conversation, mirroring the process-local exclusive lock
// the source takes over an Arc<Mutex<Repository>>.
type Repository struct {
	ProjectName   string
	ProjectCode   hash.ObjectHash
	RootDir       string
	History       *graph.Graph
	ActionHistory *action.History
	Branches      *NamedHashes
	CurrentHash   hash.ObjectHash
	StagedFiles   []string
	Stash         *stash.Stash
	Trash         *trash.Trash
	Tags          *NamedHashes
	Users         *user.Users
	Store         *content.Store
	Cache         *content.Cache

	ignoreMatcher *ignore.GitIgnore
	currentUser   *key.PublicKey

	mu sync.Mutex
}

// Lock/Unlock expose the repository's single coarse-grained lock, taken by
// the sync protocol for the duration of a clone/pull/push conversation -
// the Go analogue of locking an Arc<Mutex<Repository>> around an async
// task in the original implementation.
func (r *Repository) Lock()   { r.mu.Lock() }
func (r *Repository) Unlock() { r.mu.Unlock() }

// Close releases resources held open for the lifetime of the process, at
// present just the metadata Cache's bbolt file handle.
func (r *Repository) Close() error {
	return r.Cache.Close()
}

// MainDir is the repository's metadata directory, <root>/.asc.
func (r *Repository) MainDir() string {
	return filepath.Join(r.RootDir, ".asc")
}

// BlobsDir is where content blobs live, <root>/.asc/blobs.
func (r *Repository) BlobsDir() string {
	return filepath.Join(r.MainDir(), "blobs")
}

func getIgnoreMatcher(rootDir string) (*ignore.GitIgnore, error) {
	path := filepath.Join(rootDir, ".ascignore")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ignore.CompileIgnoreLines(), nil
	}
	matcher, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("build ignore matcher from %s: %w", path, err)
	}
	return matcher, nil
}

// IsIgnoredPath reports whether path is matched by the repository's
// .ascignore file.
func (r *Repository) IsIgnoredPath(path string) bool {
	if r.ignoreMatcher == nil {
		return false
	}
	rel, err := filepath.Rel(r.RootDir, path)
	if err != nil {
		rel = path
	}
	return r.ignoreMatcher.MatchesPath(rel)
}

// CurrentUser returns the active user record, clearing and returning false
// if the selected public key no longer resolves to a usable account (not
// registered, closed, or missing its private key).
func (r *Repository) CurrentUser() (user.User, bool) {
	if r.currentUser == nil {
		return user.User{}, false
	}
	usr, ok := r.Users.GetUser(*r.currentUser)
	if !ok || usr.Closed || usr.PrivateKey == nil {
		r.currentUser = nil
		return user.User{}, false
	}
	return usr, true
}

// SetCurrentUser switches the active user by name, failing if no such user
// exists, the account is closed, or it has no local private key.
func (r *Repository) SetCurrentUser(name string) error {
	for _, usr := range r.Users.Iter() {
		if usr.Name != name {
			continue
		}
		if usr.Closed {
			return ascerr.New(ascerr.CodePermissionDenied, fmt.Sprintf("cannot switch to closed user %q", name))
		}
		if usr.PrivateKey == nil {
			return ascerr.New(ascerr.CodePermissionDenied, fmt.Sprintf("cannot switch to user %q: no private key", name))
		}
		pub := usr.PublicKey
		r.currentUser = &pub
		return nil
	}
	return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("no user with name %q exists in the repository", name))
}

// CurrentBranch returns the name of the branch current-hash is the tip of,
// if any.
func (r *Repository) CurrentBranch() (string, bool) {
	return r.BranchFromHash(r.CurrentHash)
}

// BranchFromHash returns the name of whichever branch points at h, if any.
func (r *Repository) BranchFromHash(h hash.ObjectHash) (string, bool) {
	for _, e := range r.Branches.Iter() {
		if e.Hash == h {
			return e.Name, true
		}
	}
	return "", false
}

// IsHeadDetached reports whether current-hash is not the tip of any branch.
func (r *Repository) IsHeadDetached() bool {
	_, ok := r.CurrentBranch()
	return !ok
}

func (r *Repository) appendSnapshotInternal(snap *snapshot.Snapshot, branchName *string) error {
	h := snap.Hash
	if branchName != nil {
		r.Branches.Create(*branchName, h)
	}
	if err := r.SaveSnapshot(snap); err != nil {
		return err
	}
	r.CurrentHash = h
	return nil
}

// AppendSnapshot appends snap to the tip of the current branch, moving that
// branch's pointer to snap's hash.
func (r *Repository) AppendSnapshot(snap *snapshot.Snapshot) error {
	var branch *string
	if name, ok := r.CurrentBranch(); ok {
		branch = &name
	}
	return r.appendSnapshotInternal(snap, branch)
}

// AppendSnapshotToBranch appends snap to the tip of the named branch,
// moving that branch's pointer regardless of which branch HEAD is on.
func (r *Repository) AppendSnapshotToBranch(snap *snapshot.Snapshot, branchName string) error {
	return r.appendSnapshotInternal(snap, &branchName)
}

// NormaliseHash resolves a (possibly abbreviated) hex hash prefix against
// every hash known to the snapshot graph. When a metadata Cache is present
// it's consulted first for a fast prefix scan; a miss there still falls
// back to the authoritative linear scan below, since the cache is only a
// derived speedup and may lag a graph that hasn't been Saved yet.
func (r *Repository) NormaliseHash(raw string) (hash.ObjectHash, error) {
	if raw == "" {
		return hash.ObjectHash{}, fmt.Errorf("normalise hash: empty hash given")
	}
	if r.Cache != nil {
		matches, err := r.Cache.PrefixLookup(raw)
		if err == nil && len(matches) == 1 {
			return matches[0], nil
		}
	}
	var matches []hash.ObjectHash
	for _, h := range r.History.IterHashes() {
		full := h.Full()
		if len(full) >= len(raw) && full[:len(raw)] == raw {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return hash.ObjectHash{}, fmt.Errorf("could not resolve hash: %q", raw)
	case 1:
		if r.Cache != nil {
			_ = r.Cache.RecordHash(matches[0])
		}
		return matches[0], nil
	default:
		return hash.ObjectHash{}, ascerr.New(ascerr.CodeAmbiguousPrefix,
			fmt.Sprintf("hash prefix %q matches %d snapshots", raw, len(matches)))
	}
}

// NormaliseVersion resolves raw as a branch name first, falling back to
// NormaliseHash.
func (r *Repository) NormaliseVersion(raw string) (hash.ObjectHash, error) {
	if h, ok := r.Branches.Get(raw); ok {
		return h, nil
	}
	return r.NormaliseHash(raw)
}

// TrashStatus describes how h is found in the trash: not at all, directly,
// or indirectly (as a descendant of the returned ancestor hash).
type TrashStatus struct {
	Direct   bool
	Indirect bool
	Ancestor hash.ObjectHash
}

// TrashContains checks whether h is trashed, directly or indirectly (a
// descendant, in the snapshot graph, of a directly-trashed hash).
func (r *Repository) TrashContains(h hash.ObjectHash) TrashStatus {
	if r.Trash.Contains(h) {
		return TrashStatus{Direct: true}
	}
	for _, e := range r.Trash.Entries {
		if r.History.IsDescendant(h, e.Hash) {
			return TrashStatus{Indirect: true, Ancestor: e.Hash}
		}
	}
	return TrashStatus{}
}
