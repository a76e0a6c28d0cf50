package syncproto_test

import (
	"os"
	"path/filepath"
	"testing"

	"asc.dev/asc/repo"
	"asc.dev/asc/syncproto"
	"asc.dev/asc/user"
)

func newProjectRepo(t *testing.T, author, project string) (*repo.Repository, user.User) {
	t.Helper()
	r, err := repo.CreateNew(t.TempDir(), author, project)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	owners := r.Users.Iter()
	if len(owners) != 1 {
		t.Fatalf("expected exactly one user after CreateNew, got %d", len(owners))
	}
	return r, owners[0]
}

func writeAndCommit(t *testing.T, r *repo.Repository, rel, contents, message string) {
	t.Helper()
	path := filepath.Join(r.RootDir, rel)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	r.StagedFiles = []string{path}
	snap, err := r.CommitCurrentState(message)
	if err != nil {
		t.Fatalf("CommitCurrentState(%q): %v", message, err)
	}
	if err := r.AppendSnapshot(snap); err != nil {
		t.Fatalf("AppendSnapshot(%q): %v", message, err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

// runConversation drives an in-process sync conversation: the server side
// runs HandleServer in a goroutine while the client callback runs on the
// test goroutine, returning whatever the client callback returns.
func runConversation[T any](t *testing.T, server *repo.Repository, client func(syncproto.Stream) T) T {
	t.Helper()
	clientStream, serverStream := syncproto.NewChannelStreamPair(8)
	serverErr := make(chan error, 1)
	go func() { serverErr <- syncproto.HandleServer(serverStream, server) }()

	result := client(clientStream)
	if err := <-serverErr; err != nil {
		t.Fatalf("server side failed: %v", err)
	}
	return result
}

// cloneClient clones server into a fresh temp directory as owner, then
// restores owner's private key into the clone's user set - simulating an
// operator who already holds their own key separately from the project's
// stripped clone payload, so they can keep committing locally afterwards.
func cloneClient(t *testing.T, server *repo.Repository, owner user.User) *repo.Repository {
	t.Helper()
	clientDir := t.TempDir()

	client := runConversation(t, server, func(stream syncproto.Stream) *repo.Repository {
		r, err := syncproto.HandleCloneAsClient(stream, *owner.PrivateKey, clientDir)
		if err != nil {
			t.Fatalf("HandleCloneAsClient: %v", err)
		}
		return r
	})

	usr, ok := client.Users.GetUser(owner.PublicKey)
	if !ok {
		t.Fatal("cloned repository lost the owner's user entry")
	}
	usr.PrivateKey = owner.PrivateKey
	client.Users.SetUser(usr)
	if err := client.SetCurrentUser(owner.Name); err != nil {
		t.Fatalf("SetCurrentUser: %v", err)
	}
	return client
}

func TestCloneRoundTrip(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	serverTip, _ := server.Branches.Get("main")

	client := cloneClient(t, server, owner)

	if client.ProjectName != "widgets" {
		t.Fatalf("ProjectName = %q, want widgets", client.ProjectName)
	}
	if client.ProjectCode != server.ProjectCode {
		t.Fatal("cloned project code does not match the server's")
	}
	clientTip, ok := client.Branches.Get("main")
	if !ok || clientTip != serverTip {
		t.Fatalf("clone main tip = %v (ok=%v), want %v", clientTip, ok, serverTip)
	}

	snap, err := client.FetchSnapshot(clientTip)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	text, err := client.Store.FetchString(snap.Files["a.txt"])
	if err != nil {
		t.Fatalf("FetchString: %v", err)
	}
	if text != "hello\n" {
		t.Fatalf("a.txt content = %q, want %q", text, "hello\n")
	}
}

func TestPullFastForward(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)

	writeAndCommit(t, server, "b.txt", "second\n", "add b.txt")
	serverTip, _ := server.Branches.Get("main")

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PullResult {
		r, err := syncproto.HandlePullAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePullAsClient: %v", err)
		}
		return r
	})

	br, ok := result.Branches["main"]
	if !ok || br.Kind != syncproto.BranchFastForward {
		t.Fatalf("main pull result = %+v (ok=%v), want BranchFastForward", br, ok)
	}
	if br.NewHash != serverTip {
		t.Fatalf("fast-forward hash = %v, want %v", br.NewHash, serverTip)
	}

	clientTip, _ := client.Branches.Get("main")
	if clientTip != serverTip {
		t.Fatal("client branch did not fast-forward to the server's tip")
	}
	snap, err := client.FetchSnapshot(clientTip)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	text, err := client.Store.FetchString(snap.Files["b.txt"])
	if err != nil || text != "second\n" {
		t.Fatalf("b.txt content = %q, err = %v", text, err)
	}
}

func TestPullConflictRenamesLocalBranchAside(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)

	writeAndCommit(t, server, "remote.txt", "from server\n", "server diverges")
	serverTip, _ := server.Branches.Get("main")

	writeAndCommit(t, client, "local.txt", "from client\n", "client diverges")
	localTip, _ := client.Branches.Get("main")

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PullResult {
		r, err := syncproto.HandlePullAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePullAsClient: %v", err)
		}
		return r
	})

	br := result.Branches["main"]
	if br.Kind != syncproto.BranchConflict {
		t.Fatalf("main pull result kind = %v, want BranchConflict", br.Kind)
	}
	if br.RemoteHash != serverTip || br.LocalHash != localTip {
		t.Fatalf("conflict result = %+v, want remote=%v local=%v", br, serverTip, localTip)
	}

	mainTip, ok := client.Branches.Get("main")
	if !ok || mainTip != serverTip {
		t.Fatalf("main should now point at the remote tip %v, got %v (ok=%v)", serverTip, mainTip, ok)
	}
	localTipAfter, ok := client.Branches.Get("main-local")
	if !ok || localTipAfter != localTip {
		t.Fatalf("main-local should preserve the old local tip %v, got %v (ok=%v)", localTip, localTipAfter, ok)
	}
}

func TestPullDiscoversNewRemoteTag(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)

	serverTip, _ := server.Branches.Get("main")
	server.Tags.Create("v1", serverTip)
	if err := server.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PullResult {
		r, err := syncproto.HandlePullAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePullAsClient: %v", err)
		}
		return r
	})

	tr, ok := result.Tags["v1"]
	if !ok || tr.Kind != syncproto.TagNew {
		t.Fatalf("v1 pull result = %+v (ok=%v), want TagNew", tr, ok)
	}
	if tr.Hash != serverTip {
		t.Fatalf("new tag hash = %v, want %v", tr.Hash, serverTip)
	}
	clientTag, ok := client.Tags.Get("v1")
	if !ok || clientTag != serverTip {
		t.Fatalf("client tag v1 = %v (ok=%v), want %v", clientTag, ok, serverTip)
	}

	// Repeating the pull with nothing changed must report the tag as
	// up to date rather than discovering it as new a second time.
	result = runConversation(t, server, func(stream syncproto.Stream) syncproto.PullResult {
		r, err := syncproto.HandlePullAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePullAsClient: %v", err)
		}
		return r
	})
	tr = result.Tags["v1"]
	if tr.Kind != syncproto.TagUpToDate {
		t.Fatalf("repeated pull v1 result kind = %v, want TagUpToDate", tr.Kind)
	}
}

func TestPullTagConflictLeavesLocalTagUntouched(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)
	localTip, _ := client.Branches.Get("main")
	client.Tags.Create("v1", localTip)

	writeAndCommit(t, server, "b.txt", "second\n", "add b.txt")
	serverTip, _ := server.Branches.Get("main")
	server.Tags.Create("v1", serverTip)
	if err := server.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PullResult {
		r, err := syncproto.HandlePullAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePullAsClient: %v", err)
		}
		return r
	})

	tr := result.Tags["v1"]
	if tr.Kind != syncproto.TagConflict {
		t.Fatalf("v1 pull result kind = %v, want TagConflict", tr.Kind)
	}
	if tr.Local != localTip || tr.Remote != serverTip {
		t.Fatalf("conflict result = %+v, want local=%v remote=%v", tr, localTip, serverTip)
	}
	clientTag, ok := client.Tags.Get("v1")
	if !ok || clientTag != localTip {
		t.Fatalf("client tag v1 = %v (ok=%v), want untouched at %v", clientTag, ok, localTip)
	}
}

func TestPushUpToDate(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PushResult {
		r, err := syncproto.HandlePushAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePushAsClient: %v", err)
		}
		return r
	})

	br, ok := result.Branches["main"]
	if !ok || br.Kind != syncproto.BranchPushUpToDate {
		t.Fatalf("main push result = %+v (ok=%v), want BranchPushUpToDate", br, ok)
	}
}

func TestPushSplitHistoryNeverOverwritesRemote(t *testing.T) {
	server, owner := newProjectRepo(t, "alice", "widgets")
	writeAndCommit(t, server, "a.txt", "hello\n", "add a.txt")
	client := cloneClient(t, server, owner)

	writeAndCommit(t, server, "remote.txt", "from server\n", "server diverges")
	serverTip, _ := server.Branches.Get("main")

	writeAndCommit(t, client, "local.txt", "from client\n", "client diverges")

	result := runConversation(t, server, func(stream syncproto.Stream) syncproto.PushResult {
		r, err := syncproto.HandlePushAsClient(stream, client, owner)
		if err != nil {
			t.Fatalf("HandlePushAsClient: %v", err)
		}
		return r
	})

	br := result.Branches["main"]
	if br.Kind != syncproto.BranchPushSplitHistory {
		t.Fatalf("main push result kind = %v, want BranchPushSplitHistory", br.Kind)
	}
	if br.RemoteHash != serverTip {
		t.Fatalf("split history result remote hash = %v, want %v", br.RemoteHash, serverTip)
	}

	stillServerTip, ok := server.Branches.Get("main")
	if !ok || stillServerTip != serverTip {
		t.Fatal("push must never move a remote branch pointer on split history")
	}
}
