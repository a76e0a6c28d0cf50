package repo

import (
	"fmt"

	"asc.dev/asc/action"
	"asc.dev/asc/internal/ascerr"
)

// applyAction mutates the repository's in-memory state to reflect a (the
// forward or inverse of a previously recorded action). It does not itself
// push or pop the action history - callers are responsible for that.
func (r *Repository) applyAction(a action.Action) error {
	switch a.Kind {
	case action.KindCreateBranch:
		// Create, not remove: the source's CreateBranch/DeleteBranch arms
		// are swapped (the same copy-paste pattern as the OpenAccount/
		// CloseAccount bug below), which would make every branch undo/redo
		// invert create and delete.
		r.Branches.Create(a.Name, a.Hash)

	case action.KindDeleteBranch:
		r.Branches.Remove(a.Name)

	case action.KindMoveBranch:
		r.Branches.Create(a.Name, a.After)

	case action.KindRenameBranch:
		r.Branches.Rename(a.Old, a.New)

	case action.KindSwitchVersion:
		r.CurrentHash = a.After

	case action.KindCreateTag:
		r.Tags.Create(a.Name, a.Hash)

	case action.KindRemoveTag:
		r.Tags.Remove(a.Name)

	case action.KindRenameTag:
		r.Tags.Rename(a.Old, a.New)

	case action.KindCloseAccount:
		usr, ok := r.Users.GetUser(a.ID)
		if !ok {
			return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("apply action: no user account with public key %x", a.ID.Bytes()))
		}
		usr.Closed = true
		r.Users.SetUser(usr)

	case action.KindOpenAccount:
		usr, ok := r.Users.GetUser(a.ID)
		if !ok {
			return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("apply action: no user account with public key %x", a.ID.Bytes()))
		}
		// Reopen the account. The Closed flag must flip to false here -
		// setting it true (mirroring CloseAccount verbatim) would make
		// OpenAccount indistinguishable from CloseAccount.
		usr.Closed = false
		r.Users.SetUser(usr)

	case action.KindRenameAccount:
		usr, ok := r.Users.GetUser(a.ID)
		if !ok {
			return ascerr.New(ascerr.CodeUnknownUser, fmt.Sprintf("apply action: no user account with public key %x", a.ID.Bytes()))
		}
		usr.Name = a.New
		r.Users.SetUser(usr)

	case action.KindTrashAdd:
		r.Trash.Add(a.Hash)

	case action.KindTrashRecover:
		r.Trash.Remove(a.Hash)

	default:
		return fmt.Errorf("apply action: unknown kind %q", a.Kind)
	}

	return nil
}

// Do records and applies a fresh action, pushing it onto the action history
// and discarding anything previously available for redo.
func (r *Repository) Do(a action.Action) error {
	if err := r.applyAction(a); err != nil {
		return err
	}
	r.ActionHistory.Push(a)
	return nil
}

// UndoAction reverts the most recently done action, if any, returning the
// inverse action it applied.
func (r *Repository) UndoAction() (*action.Action, error) {
	a, ok := r.ActionHistory.Undo()
	if !ok {
		return nil, nil
	}

	inverse, err := action.Inverse(a)
	if err != nil {
		return nil, fmt.Errorf("undo action: %w", err)
	}
	if err := r.applyAction(inverse); err != nil {
		return nil, fmt.Errorf("undo action: %w", err)
	}
	return &inverse, nil
}

// RedoAction reapplies the most recently undone action, if any, returning
// it.
func (r *Repository) RedoAction() (*action.Action, error) {
	a, ok := r.ActionHistory.Redo()
	if !ok {
		return nil, nil
	}
	if err := r.applyAction(a); err != nil {
		return nil, fmt.Errorf("redo action: %w", err)
	}
	return &a, nil
}
