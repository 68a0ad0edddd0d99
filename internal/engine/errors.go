package engine

import (
	"errors"
	"fmt"
)

// CommitError wraps a persistence failure during ExecuteAndCommit. It is
// deliberately distinct from business-rule failures, which are returned as
// CommandResult data: the caller's retry policy for a commit failure is
// "re-read the aggregate and re-submit", never blind retry.
//
// Ref is an opaque reference id safe to surface to end users; internals
// stay in the wrapped error for logs only.
type CommitError struct {
	Ref string // opaque reference for support/logs correlation
	Err error
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed (ref=%s): %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError reports whether err is (or wraps) a CommitError.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
