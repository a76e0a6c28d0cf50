package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/action"
	"asc.dev/asc/content"
	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/key"
	"asc.dev/asc/snapshot"
	"asc.dev/asc/stash"
	"asc.dev/asc/trash"
	"asc.dev/asc/user"
)

// ProjectInfo is the subset of repository state that round-trips through
// the on-disk "info" file: identity, the current cursors, and anything
// else too small to warrant its own file.
type ProjectInfo struct {
	ProjectName string         `msgpack:"project_name"`
	ProjectCode hash.ObjectHash `msgpack:"project_code"`
	CurrentUser *key.PublicKey `msgpack:"current_user"`
	Branches    *NamedHashes   `msgpack:"branches"`
	CurrentHash hash.ObjectHash `msgpack:"current_hash"`
	Stash       *stash.Stash   `msgpack:"stash"`
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func saveMsgpack(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func loadMsgpack(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ProjectInfoFromFile loads a ProjectInfo from path.
func ProjectInfoFromFile(path string) (*ProjectInfo, error) {
	var info ProjectInfo
	if err := loadMsgpack(path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ToFile writes info to path.
func (info *ProjectInfo) ToFile(path string) error {
	return saveMsgpack(path, info)
}

func locateRootDir(from string) (string, bool, error) {
	absolute, err := filepath.Abs(from)
	if err != nil {
		return "", false, err
	}
	current := absolute
	for {
		if st, err := os.Stat(filepath.Join(current, ".asc")); err == nil && st.IsDir() {
			return current, true, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false, nil
		}
		current = parent
	}
}

// CreateNew initializes a fresh repository rooted at root, owned by a
// first user named author, pre-creating the blob shard directories, the
// empty .ascignore, the root orphan snapshot, and the "main" branch.
func CreateNew(root, author, projectName string) (*Repository, error) {
	rootDir, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	st, err := os.Stat(rootDir)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("create repository: %s is not a directory", rootDir)
	}

	contentDir := filepath.Join(rootDir, ".asc")
	if st, err := os.Stat(contentDir); err == nil && st.IsDir() {
		return nil, fmt.Errorf("create repository: root directory %s already contains a repository", rootDir)
	}

	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	store, err := content.Open(filepath.Join(contentDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	projectCode := hash.Of([]byte(fmt.Sprintf("%d", time.Now().UTC().UnixNano())))

	// The metadata cache is derived and rebuildable, never authoritative, so
	// a repository still opens fine without one - most often because
	// another handle on the same root already holds the file lock.
	cache, _ := content.OpenCache(filepath.Join(contentDir, "cache.db"), projectCode)

	if err := os.WriteFile(filepath.Join(rootDir, ".ascignore"), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create repository: write .ascignore: %w", err)
	}

	users := user.NewUsers()
	firstUserKey, err := users.CreateUser(author)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	history := graph.New()
	rootSnapshot, err := snapshot.New(
		firstUserKey,
		"initial snapshot",
		time.Now().UTC(),
		map[string]hash.ObjectHash{},
		map[hash.ObjectHash]struct{}{},
	)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	history.InsertOrphan(rootSnapshot.Hash)

	branches := NewNamedHashes()
	branches.Create("main", rootSnapshot.Hash)

	ignoreMatcher, err := getIgnoreMatcher(rootDir)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	firstUserPub := firstUserKey.PublicKey()
	repository := &Repository{
		ProjectName:   projectName,
		ProjectCode:   projectCode,
		RootDir:       rootDir,
		History:       history,
		ActionHistory: action.NewHistory(),
		Branches:      branches,
		CurrentHash:   rootSnapshot.Hash,
		StagedFiles:   nil,
		Stash:         stash.New(),
		Trash:         trash.New(),
		Tags:          NewNamedHashes(),
		Users:         users,
		Store:         store,
		Cache:         cache,
		ignoreMatcher: ignoreMatcher,
		currentUser:   &firstUserPub,
	}

	if err := repository.SaveSnapshot(rootSnapshot); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	if err := repository.Save(); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	return repository, nil
}

// Load searches upward from the current working directory for a ".asc"
// directory and loads the repository rooted there.
func Load() (*Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}
	rootDir, found, err := locateRootDir(cwd)
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no .asc directory found searching upward from %s", cwd)
	}
	return LoadFrom(rootDir)
}

// LoadFrom loads the repository rooted at rootDir without searching
// upward.
func LoadFrom(rootDir string) (*Repository, error) {
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}
	contentDir := filepath.Join(rootDir, ".asc")

	info, err := ProjectInfoFromFile(filepath.Join(contentDir, "info"))
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	history, err := graph.FromFile(filepath.Join(contentDir, "tree"))
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	var stagedFiles []string
	if err := loadMsgpack(filepath.Join(contentDir, "index"), &stagedFiles); err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	actionHistory := action.NewHistory()
	if err := loadMsgpack(filepath.Join(contentDir, "history"), actionHistory); err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	trashBin := trash.New()
	if err := loadMsgpack(filepath.Join(contentDir, "trash"), trashBin); err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	tags := NewNamedHashes()
	if err := loadMsgpack(filepath.Join(contentDir, "tags"), tags); err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	users := user.NewUsers()
	if err := loadMsgpack(filepath.Join(contentDir, "users"), users); err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	store, err := content.Open(filepath.Join(contentDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	cache, _ := content.OpenCache(filepath.Join(contentDir, "cache.db"), info.ProjectCode)

	ignoreMatcher, err := getIgnoreMatcher(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	return &Repository{
		ProjectName:   info.ProjectName,
		ProjectCode:   info.ProjectCode,
		RootDir:       rootDir,
		History:       history,
		ActionHistory: actionHistory,
		Branches:      info.Branches,
		CurrentHash:   info.CurrentHash,
		StagedFiles:   stagedFiles,
		Stash:         info.Stash,
		Trash:         trashBin,
		Tags:          tags,
		Users:         users,
		Store:         store,
		Cache:         cache,
		ignoreMatcher: ignoreMatcher,
		currentUser:   info.CurrentUser,
	}, nil
}

// Save persists the repository's full on-disk layout: info, tree (graph),
// index (staged files), history (actions), trash, tags, and users. It
// validates the history first, refusing to save an inconsistent
// repository.
func (r *Repository) Save() error {
	if err := r.ValidateHistory(); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}

	contentDir := r.MainDir()

	info := &ProjectInfo{
		ProjectName: r.ProjectName,
		ProjectCode: r.ProjectCode,
		CurrentUser: r.currentUser,
		Branches:    r.Branches,
		CurrentHash: r.CurrentHash,
		Stash:       r.Stash,
	}
	if err := info.ToFile(filepath.Join(contentDir, "info")); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}

	if err := r.History.ToFile(filepath.Join(contentDir, "tree")); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}

	index := make([]string, 0, len(r.StagedFiles))
	for _, p := range r.StagedFiles {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			rel = p
		}
		index = append(index, rel)
	}
	if err := saveMsgpack(filepath.Join(contentDir, "index"), index); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}

	if err := saveMsgpack(filepath.Join(contentDir, "history"), r.ActionHistory); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	if err := saveMsgpack(filepath.Join(contentDir, "trash"), r.Trash); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	if err := saveMsgpack(filepath.Join(contentDir, "tags"), r.Tags); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	if err := saveMsgpack(filepath.Join(contentDir, "users"), r.Users); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}

	// A cache failure does not fail Save: see refreshCache.
	_ = r.refreshCache()

	return nil
}

// refreshCache rebuilds the tip_cache bucket from the just-saved
// branches/tags and records every graph hash in the prefix index. The
// cache is derived state: a failure here never fails Save outright, since
// NormaliseHash falls back to a linear scan when the cache misses.
func (r *Repository) refreshCache() error {
	if r.Cache == nil {
		return nil
	}
	if err := r.Cache.ClearTips(); err != nil {
		return err
	}
	for _, e := range r.Branches.Iter() {
		if err := r.Cache.SetTip(e.Name, e.Hash); err != nil {
			return err
		}
	}
	for _, e := range r.Tags.Iter() {
		if err := r.Cache.SetTip(e.Name, e.Hash); err != nil {
			return err
		}
	}
	for _, h := range r.History.IterHashes() {
		if err := r.Cache.RecordHash(h); err != nil {
			return err
		}
	}
	return nil
}
