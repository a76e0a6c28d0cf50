package syncproto

import (
	"fmt"

	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/repo"
	"asc.dev/asc/setrecon"
	"asc.dev/asc/user"
)

// BranchPushResultKind classifies how pushing a single branch resolved.
// Push never force-overwrites diverged remote history and never deletes a
// remote branch - a divergence is always reported as BranchPushSplitHistory
// rather than acted on.
type BranchPushResultKind int

const (
	BranchPushCreated BranchPushResultKind = iota
	BranchPushUpToDate
	BranchPushFastForward
	BranchPushSplitHistory
)

type BranchPushResult struct {
	Kind       BranchPushResultKind `msgpack:"kind"`
	NewHash    hash.ObjectHash      `msgpack:"new_hash,omitempty"`
	RemoteHash hash.ObjectHash      `msgpack:"remote_hash,omitempty"`
}

type TagPushResultKind int

const (
	TagPushCreated TagPushResultKind = iota
	TagPushUpToDate
	TagPushConflict
)

type TagPushResult struct {
	Kind   TagPushResultKind `msgpack:"kind"`
	Hash   hash.ObjectHash   `msgpack:"hash,omitempty"`
	Local  hash.ObjectHash   `msgpack:"local,omitempty"`
	Remote hash.ObjectHash   `msgpack:"remote,omitempty"`
}

type PushResult struct {
	Branches map[string]BranchPushResult
	Tags     map[string]TagPushResult
}

type pushBranchRequest struct {
	Name string          `msgpack:"name"`
	Tip  hash.ObjectHash `msgpack:"tip"`
}

type pushTagRequest struct {
	Name string          `msgpack:"name"`
	Hash hash.ObjectHash `msgpack:"hash"`
}

// ClientPushOneBranch runs one branch's worth of the push conversation from
// the client side. The client holds the encoder (it has more than the
// server, typically) and answers the server's reconciliation requests,
// then sends whatever objects the server says it's missing.
func ClientPushOneBranch(stream Stream, r *repo.Repository, name string) (BranchPushResult, error) {
	localTip, hasLocal := r.Branches.Get(name)
	if !hasLocal {
		return BranchPushResult{}, fmt.Errorf("push %s: no such local branch", name)
	}
	if err := stream.Send(pushBranchRequest{Name: name, Tip: localTip}); err != nil {
		return BranchPushResult{}, fmt.Errorf("push %s: send request: %w", name, err)
	}

	localChain := graph.Empty()
	dfsGet(r.History, localTip, localChain)
	encoder := setrecon.NewEncoder(closureElements(localChain))

	for {
		var state SendState
		if err := stream.Receive(&state); err != nil {
			return BranchPushResult{}, fmt.Errorf("push %s: receive continuation: %w", name, err)
		}
		if state.Done {
			break
		}
		sym := encoder.Next()
		if err := stream.Send(sym); err != nil {
			return BranchPushResult{}, fmt.Errorf("push %s: send symbol: %w", name, err)
		}
	}

	var needed []hash.ObjectHash
	if err := stream.Receive(&needed); err != nil {
		return BranchPushResult{}, fmt.Errorf("push %s: receive needed hashes: %w", name, err)
	}
	if len(needed) > 0 {
		objects, err := collectObjectsFor(r, needed)
		if err != nil {
			return BranchPushResult{}, fmt.Errorf("push %s: %w", name, err)
		}
		entries := make([]objectEntry, 0, len(objects))
		for h, obj := range objects {
			entries = append(entries, objectEntry{Hash: h, Object: obj})
		}
		if err := stream.Send(entries); err != nil {
			return BranchPushResult{}, fmt.Errorf("push %s: send objects: %w", name, err)
		}
	}

	var result BranchPushResult
	if err := stream.Receive(&result); err != nil {
		return BranchPushResult{}, fmt.Errorf("push %s: receive result: %w", name, err)
	}
	return result, nil
}

func clientPushOneTag(stream Stream, r *repo.Repository, name string) (TagPushResult, error) {
	localHash, _ := r.Tags.Get(name)
	if err := stream.Send(pushTagRequest{Name: name, Hash: localHash}); err != nil {
		return TagPushResult{}, fmt.Errorf("push tag %s: send request: %w", name, err)
	}
	var result TagPushResult
	if err := stream.Receive(&result); err != nil {
		return TagPushResult{}, fmt.Errorf("push tag %s: receive result: %w", name, err)
	}
	return result, nil
}

// HandlePushAsClient drives the full client side of a push conversation:
// log in as usr, then push every branch and tag the client currently
// tracks, in that order.
func HandlePushAsClient(stream Stream, r *repo.Repository, usr user.User) (PushResult, error) {
	if err := stream.Send(MethodPush); err != nil {
		return PushResult{}, fmt.Errorf("push: send method: %w", err)
	}
	if err := LoginAs(usr, stream, r.ProjectCode); err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}

	branchNames := r.Branches.Names()
	if err := stream.Send(len(branchNames)); err != nil {
		return PushResult{}, fmt.Errorf("push: send branch count: %w", err)
	}
	result := PushResult{
		Branches: make(map[string]BranchPushResult, len(branchNames)),
		Tags:     make(map[string]TagPushResult),
	}
	for _, name := range branchNames {
		br, err := ClientPushOneBranch(stream, r, name)
		if err != nil {
			return PushResult{}, err
		}
		result.Branches[name] = br
	}

	tagNames := r.Tags.Names()
	if err := stream.Send(len(tagNames)); err != nil {
		return PushResult{}, fmt.Errorf("push: send tag count: %w", err)
	}
	for _, name := range tagNames {
		tr, err := clientPushOneTag(stream, r, name)
		if err != nil {
			return PushResult{}, err
		}
		result.Tags[name] = tr
	}

	return result, nil
}

func serverPushOneBranch(stream Stream, r *repo.Repository) error {
	var req pushBranchRequest
	if err := stream.Receive(&req); err != nil {
		return fmt.Errorf("receive push request: %w", err)
	}

	remoteTip, hasRemote := r.Branches.Get(req.Name)
	remoteChain := graph.Empty()
	if hasRemote {
		dfsGet(r.History, remoteTip, remoteChain)
	}
	decoder := setrecon.NewDecoder(closureElements(remoteChain))

	for !decoder.IsDone() {
		if err := stream.Send(Pending); err != nil {
			return fmt.Errorf("send continuation: %w", err)
		}
		var sym setrecon.Symbol
		if err := stream.Receive(&sym); err != nil {
			return fmt.Errorf("receive symbol: %w", err)
		}
		decoder.AddSymbol(sym)
	}
	if err := stream.Send(Finished); err != nil {
		return fmt.Errorf("send continuation: %w", err)
	}

	_, remoteOnly := decoder.Consume()
	if err := stream.Send(remoteOnly); err != nil {
		return fmt.Errorf("send needed hashes: %w", err)
	}
	if len(remoteOnly) > 0 {
		var entries []objectEntry
		if err := stream.Receive(&entries); err != nil {
			return fmt.Errorf("receive objects: %w", err)
		}
		objects := make(map[hash.ObjectHash]Object, len(entries))
		for _, e := range entries {
			objects[e.Hash] = e.Object
		}
		if err := installObjects(r, objects); err != nil {
			return fmt.Errorf("install objects: %w", err)
		}
	}

	var result BranchPushResult
	switch {
	case !hasRemote:
		r.Branches.Create(req.Name, req.Tip)
		result = BranchPushResult{Kind: BranchPushCreated, NewHash: req.Tip}
	case remoteTip == req.Tip:
		result = BranchPushResult{Kind: BranchPushUpToDate}
	case r.History.IsDescendant(req.Tip, remoteTip):
		r.Branches.Create(req.Name, req.Tip)
		result = BranchPushResult{Kind: BranchPushFastForward, NewHash: req.Tip}
	case r.History.IsDescendant(remoteTip, req.Tip):
		result = BranchPushResult{Kind: BranchPushUpToDate}
	default:
		result = BranchPushResult{Kind: BranchPushSplitHistory, RemoteHash: remoteTip}
	}
	if err := stream.Send(result); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

func serverPushOneTag(stream Stream, r *repo.Repository) error {
	var req pushTagRequest
	if err := stream.Receive(&req); err != nil {
		return fmt.Errorf("receive push tag request: %w", err)
	}

	remoteHash, hasRemote := r.Tags.Get(req.Name)
	var result TagPushResult
	switch {
	case !hasRemote:
		r.Tags.Create(req.Name, req.Hash)
		result = TagPushResult{Kind: TagPushCreated, Hash: req.Hash}
	case remoteHash == req.Hash:
		result = TagPushResult{Kind: TagPushUpToDate, Hash: remoteHash}
	default:
		result = TagPushResult{Kind: TagPushConflict, Local: req.Hash, Remote: remoteHash}
	}
	return stream.Send(result)
}

// HandlePushAsServer drives the server side of a push conversation. The
// repository is held locked for the whole conversation and saved once at
// the end, after every branch and tag has been resolved.
func HandlePushAsServer(stream Stream, r *repo.Repository) error {
	r.Lock()
	defer r.Unlock()

	_, err := HandleLogin(r, stream, func(u user.User) error {
		if u.Permissions&user.CanPush == 0 {
			return fmt.Errorf("user %q does not have push permission", u.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	var branchCount int
	if err := stream.Receive(&branchCount); err != nil {
		return fmt.Errorf("push: receive branch count: %w", err)
	}
	for i := 0; i < branchCount; i++ {
		if err := serverPushOneBranch(stream, r); err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}

	var tagCount int
	if err := stream.Receive(&tagCount); err != nil {
		return fmt.Errorf("push: receive tag count: %w", err)
	}
	for i := 0; i < tagCount; i++ {
		if err := serverPushOneTag(stream, r); err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}

	return r.Save()
}
