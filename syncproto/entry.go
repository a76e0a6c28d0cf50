package syncproto

import (
	"fmt"

	"asc.dev/asc/content"
	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/repo"
	"asc.dev/asc/snapshot"
)

// Method identifies which of the three sync conversations a client is
// opening, sent as the very first value on a fresh Stream.
type Method string

const (
	MethodClone Method = "clone"
	MethodPull  Method = "pull"
	MethodPush  Method = "push"
)

// SendState is a Done/Pending discriminated union used throughout the
// conversations as a per-round continuation signal - the Go analogue of the
// source's SendState<T> enum, specialised to the unit case the protocol
// actually sends between rounds.
type SendState struct {
	Done bool `msgpack:"done"`
}

var (
	// Pending signals "keep going, another round follows".
	Pending = SendState{Done: false}
	// Finished signals "this loop is over".
	Finished = SendState{Done: true}
)

// Object is the wire payload for transferring one arbitrary graph node:
// either a signed snapshot or a content blob, exactly one of which is set.
type Object struct {
	Commit  *snapshot.Snapshot `msgpack:"commit,omitempty"`
	Content *content.Content   `msgpack:"content,omitempty"`
}

func CommitObject(s *snapshot.Snapshot) Object { return Object{Commit: s} }
func ContentObject(c content.Content) Object   { return Object{Content: &c} }

// BranchResponse answers "do you have this branch, and if so at what tip"
// during a pull conversation.
type BranchResponse struct {
	Has  bool            `msgpack:"has"`
	Hash hash.ObjectHash `msgpack:"hash,omitempty"`
}

func HasBranch(h hash.ObjectHash) BranchResponse { return BranchResponse{Has: true, Hash: h} }

// DoesntHaveBranch is the zero BranchResponse - the server doesn't know the
// requested branch name at all.
var DoesntHaveBranch = BranchResponse{}

// dfsGet walks g's parent edges starting at start, recording every visited
// hash and its parent edges into chain - the finite reachable-ancestor
// closure of a single tip. Both sides of pull/push seed their set
// reconciliation from exactly this closure, computed over their own copy of
// the branch's history.
func dfsGet(g *graph.Graph, start hash.ObjectHash, chain *graph.Graph) {
	if chain.Contains(start) {
		return
	}
	parents, ok := g.GetParents(start)
	if !ok {
		return
	}
	if len(parents) == 0 {
		chain.InsertOrphan(start)
		return
	}
	for parent := range parents {
		dfsGet(g, parent, chain)
		_ = chain.Insert(start, parent)
	}
}

// closureElements returns every hash in g except the hash.Root sentinel,
// which is never a real reconciled element.
func closureElements(g *graph.Graph) []hash.ObjectHash {
	hashes := g.IterHashes()
	out := make([]hash.ObjectHash, 0, len(hashes))
	for _, h := range hashes {
		if h == hash.Root {
			continue
		}
		out = append(out, h)
	}
	return out
}

// HandleServer reads the requested Method from stream and dispatches to the
// matching server-side handler. It is the single entry point a listening
// sync server calls per accepted conversation.
func HandleServer(stream Stream, r *repo.Repository) error {
	var method Method
	if err := stream.Receive(&method); err != nil {
		return fmt.Errorf("handle server: read method: %w", err)
	}
	switch method {
	case MethodClone:
		return HandleCloneAsServer(stream, r)
	case MethodPull:
		return HandlePullAsServer(stream, r)
	case MethodPush:
		return HandlePushAsServer(stream, r)
	default:
		return fmt.Errorf("handle server: unknown method %q", method)
	}
}
