// Package action implements the reversible action log the repository
// records against branches, tags, checkouts, trash, and accounts, together
// with an undo/redo stack over it.
package action

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"asc.dev/asc/hash"
	"asc.dev/asc/key"
)

// Kind identifies which of the 13 action variants a value holds.
type Kind string

const (
	KindCreateBranch  Kind = "create_branch"
	KindDeleteBranch  Kind = "delete_branch"
	KindMoveBranch    Kind = "move_branch"
	KindRenameBranch  Kind = "rename_branch"
	KindSwitchVersion Kind = "switch_version"
	KindCreateTag     Kind = "create_tag"
	KindRemoveTag     Kind = "remove_tag"
	KindRenameTag     Kind = "rename_tag"
	KindTrashAdd      Kind = "trash_add"
	KindTrashRecover  Kind = "trash_recover"
	KindOpenAccount   Kind = "open_account"
	KindCloseAccount  Kind = "close_account"
	KindRenameAccount Kind = "rename_account"
)

// Action is a single reversible change made to a repository. Fields beyond
// Kind are populated according to which variant it represents; a tagged
// struct is used here in place of the source's enum since Go has no sum
// type with per-arm payloads.
type Action struct {
	Kind Kind `msgpack:"kind"`

	Name string          `msgpack:"name,omitempty"`
	Old  string          `msgpack:"old,omitempty"`
	New  string          `msgpack:"new,omitempty"`
	Hash hash.ObjectHash `msgpack:"hash,omitempty"`

	Before hash.ObjectHash `msgpack:"before,omitempty"`
	After  hash.ObjectHash `msgpack:"after,omitempty"`

	ID key.PublicKey `msgpack:"id,omitempty"`
}

func CreateBranch(name string, h hash.ObjectHash) Action {
	return Action{Kind: KindCreateBranch, Name: name, Hash: h}
}

func DeleteBranch(name string, h hash.ObjectHash) Action {
	return Action{Kind: KindDeleteBranch, Name: name, Hash: h}
}

func MoveBranch(name string, oldHash, newHash hash.ObjectHash) Action {
	return Action{Kind: KindMoveBranch, Name: name, Before: oldHash, After: newHash}
}

func RenameBranch(h hash.ObjectHash, old, new string) Action {
	return Action{Kind: KindRenameBranch, Hash: h, Old: old, New: new}
}

func SwitchVersion(before, after hash.ObjectHash) Action {
	return Action{Kind: KindSwitchVersion, Before: before, After: after}
}

func CreateTag(name string, h hash.ObjectHash) Action {
	return Action{Kind: KindCreateTag, Name: name, Hash: h}
}

func RemoveTag(name string, h hash.ObjectHash) Action {
	return Action{Kind: KindRemoveTag, Name: name, Hash: h}
}

func RenameTag(old, new string, h hash.ObjectHash) Action {
	return Action{Kind: KindRenameTag, Old: old, New: new, Hash: h}
}

func TrashAdd(h hash.ObjectHash) Action {
	return Action{Kind: KindTrashAdd, Hash: h}
}

func TrashRecover(h hash.ObjectHash) Action {
	return Action{Kind: KindTrashRecover, Hash: h}
}

func OpenAccount(name string, id key.PublicKey) Action {
	return Action{Kind: KindOpenAccount, Name: name, ID: id}
}

func CloseAccount(name string, id key.PublicKey) Action {
	return Action{Kind: KindCloseAccount, Name: name, ID: id}
}

func RenameAccount(old, new string, id key.PublicKey) Action {
	return Action{Kind: KindRenameAccount, Old: old, New: new, ID: id}
}

// Inverse returns the action that undoes a, per the fixed 13-row inverse
// table: branch/tag/account creation inverts to deletion and vice versa,
// moves and checkouts swap before/after, renames swap old/new, and trash
// add/recover invert into each other.
func Inverse(a Action) (Action, error) {
	switch a.Kind {
	case KindCreateBranch:
		return DeleteBranch(a.Name, a.Hash), nil
	case KindDeleteBranch:
		return CreateBranch(a.Name, a.Hash), nil
	case KindMoveBranch:
		return MoveBranch(a.Name, a.After, a.Before), nil
	case KindRenameBranch:
		return RenameBranch(a.Hash, a.New, a.Old), nil
	case KindSwitchVersion:
		return SwitchVersion(a.After, a.Before), nil
	case KindCreateTag:
		return RemoveTag(a.Name, a.Hash), nil
	case KindRemoveTag:
		return CreateTag(a.Name, a.Hash), nil
	case KindRenameTag:
		return RenameTag(a.New, a.Old, a.Hash), nil
	case KindTrashAdd:
		return TrashRecover(a.Hash), nil
	case KindTrashRecover:
		return TrashAdd(a.Hash), nil
	case KindOpenAccount:
		return CloseAccount(a.Name, a.ID), nil
	case KindCloseAccount:
		return OpenAccount(a.Name, a.ID), nil
	case KindRenameAccount:
		return RenameAccount(a.New, a.Old, a.ID), nil
	default:
		return Action{}, fmt.Errorf("action: unknown kind %q", a.Kind)
	}
}

// History is a stack of actions with undo/redo capability: pushing a new
// action truncates anything redoable past the current index.
type History struct {
	inner []Action
	index int
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{}
}

// Push records action, discarding any actions available for redo.
func (h *History) Push(a Action) {
	h.inner = append(h.inner[:h.index], a)
	h.index++
}

// Current returns the topmost action, if any.
func (h *History) Current() (Action, bool) {
	if h.index == 0 {
		return Action{}, false
	}
	return h.inner[h.index-1], true
}

// Undo moves the index back one step and returns the action now undone.
func (h *History) Undo() (Action, bool) {
	if h.index == 0 {
		return Action{}, false
	}
	h.index--
	return h.inner[h.index], true
}

// Redo moves the index forward one step and returns the action now redone.
func (h *History) Redo() (Action, bool) {
	if h.index+1 > len(h.inner) {
		return Action{}, false
	}
	h.index++
	return h.Current()
}

// Clear empties the history entirely.
func (h *History) Clear() {
	h.inner = nil
	h.index = 0
}

// AsSlices splits the stack at the current index: done actions and actions
// available for redo.
func (h *History) AsSlices() (done, redoable []Action) {
	return h.inner[:h.index], h.inner[h.index:]
}

type historyWire struct {
	Inner []Action `msgpack:"inner"`
	Index int      `msgpack:"index"`
}

func (h *History) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(historyWire{Inner: h.inner, Index: h.index})
}

func (h *History) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w historyWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	h.inner = w.Inner
	h.index = w.Index
	return nil
}
