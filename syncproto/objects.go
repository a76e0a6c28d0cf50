package syncproto

import (
	"fmt"

	"asc.dev/asc/content"
	"asc.dev/asc/hash"
	"asc.dev/asc/repo"
	"asc.dev/asc/snapshot"
)

// collectObjectsFor gathers the Objects for exactly the given snapshot
// hashes plus every content blob (and delta basis) each one references.
// Unlike collectCloneObjects it does not follow parent edges: callers pass
// it a set already known to be the full transitive closure of what's
// missing (a set reconciliation's remoteOnly/localOnly result), so walking
// parents again would be redundant.
func collectObjectsFor(r *repo.Repository, hashes []hash.ObjectHash) (map[hash.ObjectHash]Object, error) {
	objects := make(map[hash.ObjectHash]Object)
	visited := make(map[hash.ObjectHash]struct{})
	queue := append([]hash.ObjectHash{}, hashes...)

	for len(queue) > 0 {
		h := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if _, ok := visited[h]; ok {
			continue
		}
		visited[h] = struct{}{}
		if h == hash.Root {
			continue
		}

		if r.History.Contains(h) {
			snap, err := r.FetchSnapshot(h)
			if err != nil {
				return nil, fmt.Errorf("collect objects: %w", err)
			}
			objects[h] = CommitObject(snap)
			for _, fh := range snap.Files {
				queue = append(queue, fh)
			}
			continue
		}

		if r.Store.Has(h) {
			obj, err := r.Store.FetchObject(h)
			if err != nil {
				return nil, fmt.Errorf("collect objects: %w", err)
			}
			objects[h] = ContentObject(obj)
			if obj.Kind == content.KindDelta {
				queue = append(queue, obj.Original)
			}
			continue
		}
	}
	return objects, nil
}

// installObjects writes a received object set into r: content blobs first
// (no ordering requirement), then snapshots in as many passes as it takes
// for every parent to already be present.
func installObjects(r *repo.Repository, objects map[hash.ObjectHash]Object) error {
	var commits []*snapshot.Snapshot
	for h, obj := range objects {
		switch {
		case obj.Content != nil:
			if err := r.Store.SaveObject(*obj.Content, h); err != nil {
				return fmt.Errorf("save content %s: %w", h, err)
			}
		case obj.Commit != nil:
			commits = append(commits, obj.Commit)
		default:
			return fmt.Errorf("object %s has neither commit nor content", h)
		}
	}

	for len(commits) > 0 {
		progressed := false
		var remaining []*snapshot.Snapshot
		for _, snap := range commits {
			if len(snap.Parents) == 0 {
				r.History.InsertOrphan(snap.Hash)
			}
			if err := r.SaveSnapshot(snap); err != nil {
				remaining = append(remaining, snap)
				continue
			}
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("install objects: %d snapshot(s) reference parents never received", len(remaining))
		}
		commits = remaining
	}
	return nil
}
