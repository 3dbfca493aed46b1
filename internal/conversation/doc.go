// Package conversation implements the conversation orchestrator: the single
// entry point for every conversation and message mutation.
//
// # Architecture
//
// The Service coordinates four collaborators behind interfaces:
//
//   - store.Store: persistence for conversations and messages
//   - identity.Directory: user profile reads and device-token pruning
//   - media.Uploader: attachment resolution before persistence
//   - Deliverer: live fan-out and detached push fallback
//
// Every mutating operation follows the same shape: load and authorize, resolve
// external dependencies (media) before any write, persist in
// message-then-conversation order, fan out to live connections inline, then
// queue a best-effort push. A failed fan-out or push never fails a persisted
// mutation; a failed persist fails the operation.
//
// # Error Handling
//
// Operations return the domain taxonomy, tested with errors.Is:
//
//   - ErrNotFound: conversation or message does not exist
//   - ErrForbidden: caller is not a participant or not the sender
//   - ErrInvalidArgument: bad participant set, invalid content, group
//     operation on a direct conversation, duplicate member
//   - ErrDependencyFailure: a collaborator failed before anything was written
//
// # Timestamps
//
// The Service issues strictly increasing UTC timestamps at millisecond
// precision, so message createdAt order within a process matches insertion
// order and the recall path can match the preview by timestamp equality.
package conversation
