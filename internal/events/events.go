// ABOUTME: Typed live-channel envelopes and client-facing entity shapes
// ABOUTME: One explicit schema per event type, built from domain objects only

package events

import (
	"encoding/json"
	"time"

	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/store"
)

// Event types carried on the live channel.
const (
	TypeNewMessage          = "new_message"
	TypeRecalledMessage     = "recalled_message"
	TypeConversationDeleted = "conversation_deleted"
	TypeConversationUpdated = "conversation_updated"
)

// Envelope is the tagged wrapper every live event travels in.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Marshal renders the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// MessagePublic is the client-facing message shape: string ids, ISO-8601
// timestamps, sender rendered through its SenderRef.
type MessagePublic struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	AvatarURL      string        `json:"avatarUrl,omitempty"`
	Content        store.Content `json:"content"`
	CreatedAt      string        `json:"createdAt"`
}

// LastMessagePublic is the preview shape embedded in conversations.
type LastMessagePublic struct {
	SenderID  string        `json:"senderId"`
	Content   store.Content `json:"content"`
	CreatedAt string        `json:"createdAt"`
}

// ParticipantPublic is the per-participant state exposed to clients.
type ParticipantPublic struct {
	UserID string `json:"userId"`
	Muted  bool   `json:"muted"`
}

// ConversationPublic is the client-facing conversation shape.
type ConversationPublic struct {
	ID           string              `json:"id"`
	Participants []ParticipantPublic `json:"participants"`
	LastMessage  *LastMessagePublic  `json:"lastMessage,omitempty"`
	SeenBy       []string            `json:"seenIds"`
	IsGroup      bool                `json:"isGroup"`
	Name         string              `json:"name,omitempty"`
	AvatarURL    string              `json:"avatarUrl,omitempty"`
	UpdatedAt    string              `json:"updatedAt"`
}

// MembershipMetadata lets clients refresh group membership from the event
// itself, without a second fetch.
type MembershipMetadata struct {
	ParticipantIDs   []string `json:"participantIds"`
	ParticipantCount int      `json:"participantCount"`
}

// MessagePayload carries a message together with its conversation.
type MessagePayload struct {
	Message      MessagePublic       `json:"message"`
	Conversation ConversationPublic  `json:"conversation"`
	Metadata     *MembershipMetadata `json:"metadata,omitempty"`
}

// ConversationDeletedPayload notifies the deleting participant only.
type ConversationDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}

// ConversationUpdatedPayload carries the updated conversation shape.
type ConversationUpdatedPayload struct {
	Conversation ConversationPublic `json:"conversation"`
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// PublicMessage builds the client-facing shape of a stored message.
func PublicMessage(msg *store.Message, sender identity.SenderRef) MessagePublic {
	return MessagePublic{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       sender.WireID(),
		AvatarURL:      sender.AvatarURL(),
		Content:        msg.Content,
		CreatedAt:      isoTime(msg.CreatedAt),
	}
}

// PublicConversation builds the client-facing shape of a stored conversation.
func PublicConversation(conv *store.Conversation) ConversationPublic {
	participants := make([]ParticipantPublic, len(conv.Participants))
	for i, p := range conv.Participants {
		participants[i] = ParticipantPublic{UserID: p.UserID, Muted: p.Muted}
	}

	pub := ConversationPublic{
		ID:           conv.ID,
		Participants: participants,
		SeenBy:       conv.SeenBy,
		IsGroup:      conv.IsGroup,
		Name:         conv.Name,
		AvatarURL:    conv.AvatarURL,
		UpdatedAt:    isoTime(conv.UpdatedAt),
	}
	if conv.LastMessage != nil {
		pub.LastMessage = &LastMessagePublic{
			SenderID:  conv.LastMessage.SenderID,
			Content:   conv.LastMessage.Content,
			CreatedAt: isoTime(conv.LastMessage.CreatedAt),
		}
	}
	return pub
}

// NewMessage builds the new_message envelope. Metadata is non-nil only for
// membership notices.
func NewMessage(msg *store.Message, conv *store.Conversation, sender identity.SenderRef, meta *MembershipMetadata) Envelope {
	return Envelope{
		Type: TypeNewMessage,
		Payload: MessagePayload{
			Message:      PublicMessage(msg, sender),
			Conversation: PublicConversation(conv),
			Metadata:     meta,
		},
	}
}

// RecalledMessage builds the recalled_message envelope.
func RecalledMessage(msg *store.Message, conv *store.Conversation, sender identity.SenderRef) Envelope {
	return Envelope{
		Type: TypeRecalledMessage,
		Payload: MessagePayload{
			Message:      PublicMessage(msg, sender),
			Conversation: PublicConversation(conv),
		},
	}
}

// ConversationDeleted builds the conversation_deleted envelope sent to the
// deleting participant only.
func ConversationDeleted(conversationID string) Envelope {
	return Envelope{
		Type:    TypeConversationDeleted,
		Payload: ConversationDeletedPayload{ConversationID: conversationID},
	}
}

// ConversationUpdated builds the conversation_updated envelope.
func ConversationUpdated(conv *store.Conversation) Envelope {
	return Envelope{
		Type:    TypeConversationUpdated,
		Payload: ConversationUpdatedPayload{Conversation: PublicConversation(conv)},
	}
}
