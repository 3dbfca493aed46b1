// ABOUTME: Store interface and data types for conversation/message persistence
// ABOUTME: Defines Conversation, Message, ParticipantState and the Store interface

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when inserting a direct conversation
// whose two-member participant set already exists
var ErrDuplicateConversation = errors.New("direct conversation already exists")

// SystemSenderID is the reserved sender for structural conversation events
// (renames, avatar changes, membership changes, creation notices).
const SystemSenderID = "system"

// ParticipantState is the per-user, per-conversation metadata. Each participant
// carries an independent soft-delete horizon and mute flag; mutating one
// participant's state never affects another's view.
type ParticipantState struct {
	UserID string `bson:"user_id" json:"userId"`
	// LastDeletedBefore hides messages created at or before this timestamp
	// from this participant only.
	LastDeletedBefore *time.Time `bson:"last_deleted_before,omitempty" json:"lastDeletedBefore,omitempty"`
	Muted             bool       `bson:"muted" json:"muted"`
}

// LastMessage is the denormalized preview of the newest message, kept on the
// conversation so listing never needs a second query.
type LastMessage struct {
	SenderID  string    `bson:"sender_id" json:"senderId"`
	Content   Content   `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Conversation is a 1:1 or group conversation.
//
// Invariant: a non-group conversation has exactly two distinct participants and
// is unique for that pair (enforced via DirectKey); groups carry no uniqueness
// constraint. Conversations are never hard-deleted: participants leave
// individually and a zero-participant group simply lingers.
type Conversation struct {
	ID           string             `bson:"_id"`
	Participants []ParticipantState `bson:"participants"`
	IsGroup      bool               `bson:"is_group"`
	Name         string             `bson:"name,omitempty"`
	AvatarURL    string             `bson:"avatar_url,omitempty"`
	// DirectKey is the canonical "a|b" key for non-group conversations,
	// backing the unique-pair constraint. Empty for groups.
	DirectKey   string       `bson:"direct_key,omitempty"`
	LastMessage *LastMessage `bson:"last_message,omitempty"`
	SeenBy      []string     `bson:"seen_by"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
}

// Message is a single message owned by exactly one conversation.
//
// Invariant: once created, only the content may change, and only to the
// recalled variant by the original sender. Messages are never deleted.
type Message struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        Content   `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

// DirectKey returns the canonical uniqueness key for a two-member direct
// conversation, independent of argument order.
func DirectKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// Participant returns the participant state for userID, or nil if the user is
// not a member.
func (c *Conversation) Participant(userID string) *ParticipantState {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participant(userID) != nil
}

// ParticipantIDs returns the member ids in participant order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// Store defines the persistence operations the orchestrator needs.
//
// The implementation does not assume multi-document transactions: the
// orchestrator preserves preview consistency by sequencing writes
// message-then-conversation.
type Store interface {
	// Conversations
	InsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ReplaceConversation(ctx context.Context, conv *Conversation) error
	// FindDirectConversation matches a non-group conversation by its exact
	// two-member set, order-insensitive.
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	// ListConversationsForUser returns the user's conversations sorted by
	// updatedAt descending.
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// AddSeen idempotently adds userID to the conversation's seenBy set.
	AddSeen(ctx context.Context, conversationID, userID string) error

	// Messages
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ReplaceMessage(ctx context.Context, msg *Message) error
	// ListMessages returns messages sorted by createdAt descending. When
	// after is non-nil only messages created strictly after it are returned;
	// callers pass their lastDeletedBefore horizon here.
	ListMessages(ctx context.Context, conversationID string, after *time.Time, skip, limit int64) ([]*Message, error)
}
