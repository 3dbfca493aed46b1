// ABOUTME: Read operations: conversation listing and message history
// ABOUTME: Applies the caller's delete horizon and renders senders through SenderRef

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/store"
)

// ListConversations returns the caller's conversations, newest activity first,
// in client-facing shape. The preview is suppressed per caller when it falls
// at or before their delete horizon, and preview senders from soft-deleted
// accounts render under the tombstone identity.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]events.ConversationPublic, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := make([]events.ConversationPublic, 0, len(convs))
	for _, conv := range convs {
		pub := events.PublicConversation(conv)

		p := conv.Participant(userID)
		if pub.LastMessage != nil && p != nil && p.LastDeletedBefore != nil &&
			!conv.LastMessage.CreatedAt.After(*p.LastDeletedBefore) {
			pub.LastMessage = nil
		}

		if pub.LastMessage != nil && conv.LastMessage.SenderID != store.SystemSenderID {
			ref, err := identity.ResolveSender(ctx, s.dir, conv.LastMessage.SenderID)
			if err != nil {
				return nil, fmt.Errorf("resolving preview sender: %w", err)
			}
			pub.LastMessage.SenderID = ref.WireID()
		}

		out = append(out, pub)
	}
	return out, nil
}

// ListMessages returns a page of the conversation's history, newest first,
// with the caller's delete horizon applied. Senders are resolved in one
// directory read; messages from soft-deleted or missing accounts render under
// the tombstone identity.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string, skip, limit int64) ([]events.MessagePublic, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	p := conv.Participant(userID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s is not a participant", ErrForbidden, userID)
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, p.LastDeletedBefore, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	refs, err := s.resolveSenders(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]events.MessagePublic, len(msgs))
	for i, msg := range msgs {
		out[i] = events.PublicMessage(msg, refs[msg.SenderID])
	}
	return out, nil
}

// resolveSenders maps every distinct sender id in the batch to its SenderRef
// with a single directory read.
func (s *Service) resolveSenders(ctx context.Context, msgs []*store.Message) (map[string]identity.SenderRef, error) {
	refs := make(map[string]identity.SenderRef)
	var lookup []string
	for _, msg := range msgs {
		if _, ok := refs[msg.SenderID]; ok {
			continue
		}
		if msg.SenderID == store.SystemSenderID {
			refs[msg.SenderID] = identity.SystemSender()
			continue
		}
		refs[msg.SenderID] = identity.TombstonedSender(msg.SenderID)
		lookup = append(lookup, msg.SenderID)
	}
	if len(lookup) == 0 {
		return refs, nil
	}

	users, err := s.dir.GetUsers(ctx, lookup)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("resolving senders: %w", err)
	}
	for _, user := range users {
		if !user.Deleted {
			refs[user.ID] = identity.RealSender(user.ID, user.AvatarURL)
		}
	}
	return refs, nil
}
