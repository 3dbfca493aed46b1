// Package store provides persistent storage for conversations and messages
// using MongoDB.
//
// # Architecture
//
// The package exposes a single Store interface consumed by the conversation
// orchestrator. Two implementations exist:
//
//   - MongoStore: the production implementation over the conversations and
//     messages collections
//   - MockStore: an in-memory implementation for unit tests
//
// # Data Models
//
//   - Conversation: 1:1 or group conversation with per-participant state,
//     denormalized last-message preview, and the seen-by set
//   - ParticipantState: per-user mute flag and personal delete horizon
//   - Message: immutable message rows; recall replaces content, never deletes
//   - Content: tagged union over text, image_set, audio, file, system_notice,
//     and recalled variants
//
// # Invariants
//
// A non-group conversation has exactly two distinct participants and is unique
// for that pair. The uniqueness is backed by a unique sparse index on
// direct_key (the sorted "a|b" join of the member ids): concurrent creators
// race through InsertConversation and the loser receives
// ErrDuplicateConversation, which the orchestrator resolves by re-lookup.
// Group conversations carry no uniqueness constraint.
//
// The last-message preview and updatedAt are written by the orchestrator in
// the same logical step as message insertion, always sequenced
// message-then-conversation. No multi-document transactions are assumed.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: direct pair already has a conversation
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests; it enforces the same direct-pair
// uniqueness and ordering semantics as the Mongo implementation.
package store
