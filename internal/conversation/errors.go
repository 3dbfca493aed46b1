// ABOUTME: Domain error taxonomy for conversation operations
// ABOUTME: Callers classify failures with errors.Is against these sentinels

package conversation

import "errors"

var (
	// ErrNotFound means the referenced conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the caller is not a participant, or not the sender
	// for sender-only operations.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument means the request shape is wrong: bad participant
	// set, invalid content, group operation on a direct conversation,
	// duplicate member.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDependencyFailure means a required collaborator failed before any
	// state was written, such as a media upload during send.
	ErrDependencyFailure = errors.New("dependency failure")
)
