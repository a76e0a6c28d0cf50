package syncproto

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/content"
	"asc.dev/asc/graph"
	"asc.dev/asc/hash"
	"asc.dev/asc/key"
	"asc.dev/asc/repo"
	"asc.dev/asc/user"
)

// cloneState is everything about a repository's identity and cursors that
// clone transfers unconditionally, ahead of the (potentially large)
// object set.
type cloneState struct {
	ProjectName string            `msgpack:"project_name"`
	ProjectCode hash.ObjectHash   `msgpack:"project_code"`
	Branches    *repo.NamedHashes `msgpack:"branches"`
	Tags        *repo.NamedHashes `msgpack:"tags"`
	CurrentHash hash.ObjectHash   `msgpack:"current_hash"`
	Users       *user.Users       `msgpack:"users"`
}

type objectEntry struct {
	Hash   hash.ObjectHash `msgpack:"hash"`
	Object Object          `msgpack:"object"`
}

// encodeCloneObjects serializes and deflates the full object set transferred
// by a clone conversation in one shot - large, but simpler than streaming
// individual objects, and matching the source's one-shot compressed blob.
func encodeCloneObjects(objects map[hash.ObjectHash]Object) ([]byte, error) {
	entries := make([]objectEntry, 0, len(objects))
	for h, obj := range objects {
		entries = append(entries, objectEntry{Hash: h, Object: obj})
	}
	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode objects: %w", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("compress objects: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress objects: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress objects: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCloneObjects(compressed []byte) (map[hash.ObjectHash]Object, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress objects: %w", err)
	}
	var entries []objectEntry
	if err := msgpack.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode objects: %w", err)
	}
	out := make(map[hash.ObjectHash]Object, len(entries))
	for _, e := range entries {
		out[e.Hash] = e.Object
	}
	return out, nil
}

// collectCloneObjects walks every hash reachable from a branch tip -
// snapshots by parent edge and file reference, content blobs by delta
// chain - and returns the full set as wire Objects.
func collectCloneObjects(r *repo.Repository) (map[hash.ObjectHash]Object, error) {
	objects := make(map[hash.ObjectHash]Object)
	visited := make(map[hash.ObjectHash]struct{})
	queue := append([]hash.ObjectHash{}, r.Branches.Hashes()...)

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
				return nil, fmt.Errorf("collect clone objects: %w", err)
			}
			objects[h] = CommitObject(snap)
			for _, fh := range snap.Files {
				queue = append(queue, fh)
			}
			if parents, ok := r.History.GetParents(h); ok {
				for p := range parents {
					queue = append(queue, p)
				}
			}
			continue
		}

		if r.Store.Has(h) {
			obj, err := r.Store.FetchObject(h)
			if err != nil {
				return nil, fmt.Errorf("collect clone objects: %w", err)
			}
			objects[h] = ContentObject(obj)
			if obj.Kind == content.KindDelta {
				queue = append(queue, obj.Original)
			}
			continue
		}
		// Referenced but present in neither the snapshot graph nor the blob
		// store: skip rather than fail the whole transfer.
	}
	return objects, nil
}

// cloneClientLogin runs clone's own stripped-down handshake: unlike
// HandleLogin, there is no project code to check (the client doesn't know
// one yet) and the server checks only that the signing key resolves to a
// known user, not what that user is permitted to do.
func cloneClientLogin(stream Stream, priv key.PrivateKey) error {
	var challenge loginChallenge
	if err := stream.Receive(&challenge); err != nil {
		return fmt.Errorf("clone login: receive challenge: %w", err)
	}
	if !challenge.OK {
		return fmt.Errorf("clone login rejected: %s", challenge.Error)
	}

	sig, err := priv.Sign(challenge.Secret[:])
	if err != nil {
		return fmt.Errorf("clone login: sign challenge: %w", err)
	}
	if err := stream.Send(sig); err != nil {
		return fmt.Errorf("clone login: send signature: %w", err)
	}

	var result loginResult
	if err := stream.Receive(&result); err != nil {
		return fmt.Errorf("clone login: receive result: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("clone login rejected: %s", result.Error)
	}
	return nil
}

func cloneServerLogin(r *repo.Repository, stream Stream) error {
	secret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("clone login: %w", err)
	}
	if err := stream.Send(loginChallenge{OK: true, Secret: secret}); err != nil {
		return fmt.Errorf("clone login: send challenge: %w", err)
	}
	if _, err := verifyChallengeResponse(r, stream, secret); err != nil {
		return err
	}
	return stream.Send(loginResult{OK: true})
}

// HandleCloneAsClient drives the client side of a clone conversation:
// authenticate with priv, receive the remote repository's full identity and
// object set, and materialize it as a brand-new local repository rooted at
// rootDir. Every account in the cloned repository, priv's own included,
// arrives stripped of its private key; priv signs the login challenge and
// is not stored in the clone.
func HandleCloneAsClient(stream Stream, priv key.PrivateKey, rootDir string) (*repo.Repository, error) {
	if err := stream.Send(MethodClone); err != nil {
		return nil, fmt.Errorf("clone: send method: %w", err)
	}
	if err := cloneClientLogin(stream, priv); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	var state cloneState
	if err := stream.Receive(&state); err != nil {
		return nil, fmt.Errorf("clone: receive project state: %w", err)
	}

	var compressed []byte
	if err := stream.Receive(&compressed); err != nil {
		return nil, fmt.Errorf("clone: receive objects: %w", err)
	}
	objects, err := decodeCloneObjects(compressed)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	r, err := repo.CreateNew(rootDir, "clone-bootstrap", state.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("clone: initialize local repository: %w", err)
	}
	r.ProjectName = state.ProjectName
	r.ProjectCode = state.ProjectCode
	r.Branches = state.Branches
	r.Tags = state.Tags
	r.CurrentHash = state.CurrentHash
	r.Users = state.Users
	r.History = graph.New()

	if err := installObjects(r, objects); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if err := r.Save(); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return r, nil
}

// HandleCloneAsServer drives the server side of a clone conversation: the
// repository is held locked for the duration, since clone reads a
// consistent snapshot of branches/tags/users alongside the object walk.
func HandleCloneAsServer(stream Stream, r *repo.Repository) error {
	r.Lock()
	defer r.Unlock()

	if err := cloneServerLogin(r, stream); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	state := cloneState{
		ProjectName: r.ProjectName,
		ProjectCode: r.ProjectCode,
		Branches:    r.Branches,
		Tags:        r.Tags,
		CurrentHash: r.CurrentHash,
		Users:       r.Users.WithoutPrivateKeys(),
	}
	if err := stream.Send(state); err != nil {
		return fmt.Errorf("clone: send project state: %w", err)
	}

	objects, err := collectCloneObjects(r)
	if err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	compressed, err := encodeCloneObjects(objects)
	if err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	if err := stream.Send(compressed); err != nil {
		return fmt.Errorf("clone: send objects: %w", err)
	}
	return nil
}
