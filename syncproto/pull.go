package syncproto

import (
	"fmt"

	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/repo"
	"asc.dev/asc/setrecon"
	"asc.dev/asc/user"
)

// BranchPullResultKind classifies how pulling a single branch resolved.
type BranchPullResultKind int

const (
	// BranchNotOnRemote means the remote no longer (or never did) carries
	// this branch name.
	BranchNotOnRemote BranchPullResultKind = iota
	// BranchUpToDate means the local tip already equals the remote tip, or
	// the local tip is already strictly ahead of it.
	BranchUpToDate
	// BranchFastForward means the local tip was an ancestor of the remote
	// tip, so the branch pointer moved forward to it with no conflict.
	BranchFastForward
	// BranchConflict means the local and remote tips diverged: neither is
	// an ancestor of the other. The remote tip keeps the branch name; the
	// local tip is kept under "<name>-local" rather than discarded.
	BranchConflict
)

type BranchPullResult struct {
	Kind       BranchPullResultKind
	NewHash    hash.ObjectHash
	LocalHash  hash.ObjectHash
	RemoteHash hash.ObjectHash
}

// TagPullResultKind classifies how pulling a single tag resolved. Tags have
// no DAG structure to resolve a divergence against, so a conflict is
// reported rather than merged: the local tag is left untouched.
type TagPullResultKind int

const (
	TagUpToDate TagPullResultKind = iota
	TagNew
	TagConflict
)

type TagPullResult struct {
	Kind   TagPullResultKind
	Hash   hash.ObjectHash
	Local  hash.ObjectHash
	Remote hash.ObjectHash
}

// PullResult is the full outcome of a pull conversation, one entry per
// branch/tag the client asked about.
type PullResult struct {
	Branches map[string]BranchPullResult
	Tags     map[string]TagPullResult
}

// ClientPullOneBranch runs one branch's worth of the pull conversation from
// the client side: ask whether the remote has the branch, reconcile the
// local and remote ancestor sets via rateless set reconciliation, fetch
// whatever the remote has that the client doesn't, and resolve the branch
// pointer.
func ClientPullOneBranch(stream Stream, r *repo.Repository, name string) (BranchPullResult, error) {
	if err := stream.Send(name); err != nil {
		return BranchPullResult{}, fmt.Errorf("pull %s: send branch name: %w", name, err)
	}
	var resp BranchResponse
	if err := stream.Receive(&resp); err != nil {
		return BranchPullResult{}, fmt.Errorf("pull %s: receive branch response: %w", name, err)
	}
	if !resp.Has {
		return BranchPullResult{Kind: BranchNotOnRemote}, nil
	}
	remoteTip := resp.Hash

	localTip, hasLocal := r.Branches.Get(name)
	if !hasLocal {
		localTip = hash.Root
	}

	localChain := graph.Empty()
	if localTip != hash.Root {
		dfsGet(r.History, localTip, localChain)
	}
	decoder := setrecon.NewDecoder(closureElements(localChain))

	for !decoder.IsDone() {
		if err := stream.Send(Pending); err != nil {
			return BranchPullResult{}, fmt.Errorf("pull %s: send continuation: %w", name, err)
		}
		var sym setrecon.Symbol
		if err := stream.Receive(&sym); err != nil {
			return BranchPullResult{}, fmt.Errorf("pull %s: receive symbol: %w", name, err)
		}
		decoder.AddSymbol(sym)
	}
	if err := stream.Send(Finished); err != nil {
		return BranchPullResult{}, fmt.Errorf("pull %s: send continuation: %w", name, err)
	}

	_, remoteOnly := decoder.Consume()
	if err := stream.Send(remoteOnly); err != nil {
		return BranchPullResult{}, fmt.Errorf("pull %s: send needed hashes: %w", name, err)
	}
	if len(remoteOnly) > 0 {
		var entries []objectEntry
		if err := stream.Receive(&entries); err != nil {
			return BranchPullResult{}, fmt.Errorf("pull %s: receive objects: %w", name, err)
		}
		objects := make(map[hash.ObjectHash]Object, len(entries))
		for _, e := range entries {
			objects[e.Hash] = e.Object
		}
		if err := installObjects(r, objects); err != nil {
			return BranchPullResult{}, fmt.Errorf("pull %s: %w", name, err)
		}
	}

	if localTip == remoteTip {
		return BranchPullResult{Kind: BranchUpToDate}, nil
	}
	switch {
	case r.History.IsDescendant(remoteTip, localTip):
		r.Branches.Create(name, remoteTip)
		return BranchPullResult{Kind: BranchFastForward, NewHash: remoteTip}, nil
	case r.History.IsDescendant(localTip, remoteTip):
		return BranchPullResult{Kind: BranchUpToDate}, nil
	default:
		r.Branches.Rename(name, name+"-local")
		r.Branches.Create(name, remoteTip)
		return BranchPullResult{Kind: BranchConflict, LocalHash: localTip, RemoteHash: remoteTip}, nil
	}
}

// classifyPullTag resolves one entry of the server's tag map against the
// client's own tags, the way handle_pull_as_client's loop over server_tags
// does: new on the client, identical, or genuinely diverged.
func classifyPullTag(r *repo.Repository, name string, remoteHash hash.ObjectHash) TagPullResult {
	localHash, hasLocal := r.Tags.Get(name)
	if !hasLocal {
		r.Tags.Create(name, remoteHash)
		return TagPullResult{Kind: TagNew, Hash: remoteHash}
	}
	if localHash == remoteHash {
		return TagPullResult{Kind: TagUpToDate, Hash: localHash}
	}
	return TagPullResult{Kind: TagConflict, Local: localHash, Remote: remoteHash}
}

// HandlePullAsClient drives the full client side of a pull conversation:
// log in as usr, then pull every branch and tag the client currently
// tracks, in that order.
func HandlePullAsClient(stream Stream, r *repo.Repository, usr user.User) (PullResult, error) {
	if err := stream.Send(MethodPull); err != nil {
		return PullResult{}, fmt.Errorf("pull: send method: %w", err)
	}
	if err := LoginAs(usr, stream, r.ProjectCode); err != nil {
		return PullResult{}, fmt.Errorf("pull: %w", err)
	}

	branchNames := r.Branches.Names()
	if err := stream.Send(len(branchNames)); err != nil {
		return PullResult{}, fmt.Errorf("pull: send branch count: %w", err)
	}
	result := PullResult{
		Branches: make(map[string]BranchPullResult, len(branchNames)),
		Tags:     make(map[string]TagPullResult),
	}
	for _, name := range branchNames {
		br, err := ClientPullOneBranch(stream, r, name)
		if err != nil {
			return PullResult{}, err
		}
		result.Branches[name] = br
	}

	serverTags := repo.NewNamedHashes()
	if err := stream.Receive(serverTags); err != nil {
		return PullResult{}, fmt.Errorf("pull: receive tags: %w", err)
	}
	for _, e := range serverTags.Iter() {
		result.Tags[e.Name] = classifyPullTag(r, e.Name, e.Hash)
	}

	if err := r.Save(); err != nil {
		return PullResult{}, fmt.Errorf("pull: %w", err)
	}
	return result, nil
}

func serverPullOneBranch(stream Stream, r *repo.Repository) error {
	var name string
	if err := stream.Receive(&name); err != nil {
		return fmt.Errorf("receive branch name: %w", err)
	}

	tip, has := r.Branches.Get(name)
	if !has {
		return stream.Send(DoesntHaveBranch)
	}
	if err := stream.Send(HasBranch(tip)); err != nil {
		return fmt.Errorf("send branch response: %w", err)
	}

	chain := graph.Empty()
	dfsGet(r.History, tip, chain)
	encoder := setrecon.NewEncoder(closureElements(chain))

	for {
		var state SendState
		if err := stream.Receive(&state); err != nil {
			return fmt.Errorf("receive continuation: %w", err)
		}
		if state.Done {
			break
		}
		sym := encoder.Next()
		if err := stream.Send(sym); err != nil {
			return fmt.Errorf("send symbol: %w", err)
		}
	}

	var needed []hash.ObjectHash
	if err := stream.Receive(&needed); err != nil {
		return fmt.Errorf("receive needed hashes: %w", err)
	}
	if len(needed) == 0 {
		return nil
	}
	objects, err := collectObjectsFor(r, needed)
	if err != nil {
		return err
	}
	entries := make([]objectEntry, 0, len(objects))
	for h, obj := range objects {
		entries = append(entries, objectEntry{Hash: h, Object: obj})
	}
	if err := stream.Send(entries); err != nil {
		return fmt.Errorf("send objects: %w", err)
	}
	return nil
}

// HandlePullAsServer drives the server side of a pull conversation. The
// repository is held locked for the whole conversation, mirroring the
// source's Arc<Mutex<Repository>> held across the handler.
func HandlePullAsServer(stream Stream, r *repo.Repository) error {
	r.Lock()
	defer r.Unlock()

	_, err := HandleLogin(r, stream, func(u user.User) error {
		if u.Permissions&user.CanPull == 0 {
			return fmt.Errorf("user %q does not have pull permission", u.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	var branchCount int
	if err := stream.Receive(&branchCount); err != nil {
		return fmt.Errorf("pull: receive branch count: %w", err)
	}
	for i := 0; i < branchCount; i++ {
		if err := serverPullOneBranch(stream, r); err != nil {
			return fmt.Errorf("pull: %w", err)
		}
	}

	if err := stream.Send(r.Tags); err != nil {
		return fmt.Errorf("pull: send tags: %w", err)
	}
	return nil
}
