// Package ascerr defines the small set of typed errors the core raises for
// invariant violations, as opposed to plain wrapped I/O or decode errors.
package ascerr

import "fmt"

type Code string

const (
	CodeUnknownUser       Code = "UNKNOWN_USER"
	CodeBadSignature      Code = "BAD_SIGNATURE"
	CodeMissingParent     Code = "MISSING_PARENT"
	CodeNoSuchBranch      Code = "NO_SUCH_BRANCH"
	CodeNoSuchTag         Code = "NO_SUCH_TAG"
	CodeAmbiguousPrefix   Code = "AMBIGUOUS_PREFIX"
	CodeUnsavedChanges    Code = "UNSAVED_CHANGES"
	CodeNoCurrentUser     Code = "NO_CURRENT_USER"
	CodeSplitHistory      Code = "SPLIT_HISTORY"
	CodeProjectMismatch   Code = "PROJECT_MISMATCH"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeCorruptRepository Code = "CORRUPT_REPOSITORY"
)

// RepoError is a fatal, named invariant violation or user-facing failure.
type RepoError struct {
	Code Code
	Msg  string
	Err  error
}

func New(code Code, msg string) *RepoError {
	return &RepoError{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, err error) *RepoError {
	return &RepoError{Code: code, Msg: msg, Err: err}
}

func (e *RepoError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *RepoError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether err is a *RepoError carrying the given code.
func Is(err error, code Code) bool {
	re, ok := err.(*RepoError)
	return ok && re.Code == code
}
