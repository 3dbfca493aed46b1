// ABOUTME: Group-only operations: rename, avatar change, membership changes
// ABOUTME: Each structural change is recorded as a system notice message

package conversation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/media"
	"github.com/reloapp/relo-server/internal/push"
	"github.com/reloapp/relo-server/internal/store"
)

// UpdateGroupName renames a group. The change is recorded as a name_changed
// system notice broadcast to every member.
func (s *Service) UpdateGroupName(ctx context.Context, conversationID, actorID, name string) (*store.Conversation, error) {
	conv, err := s.getGroupForActor(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	oldName := conv.Name
	conv.Name = name

	actorName := s.displayName(ctx, actorID)
	text := fmt.Sprintf("%s renamed the group to %q", actorName, name)
	if err := s.postNotice(ctx, conv, store.NoticeNameChanged, text,
		map[string]string{"actor_id": actorID, "old_name": oldName, "new_name": name},
		noticeTargets{recipients: conv.ParticipantIDs(), pushExclude: actorID}); err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateGroupAvatar uploads a new group avatar and records an avatar_changed
// notice. Everyone additionally gets a conversation_updated event so clients
// refresh the image without a refetch.
func (s *Service) UpdateGroupAvatar(ctx context.Context, conversationID, actorID string, avatar media.Attachment) (*store.Conversation, error) {
	conv, err := s.getGroupForActor(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if s.uploader == nil {
		return nil, fmt.Errorf("%w: no media uploader configured", ErrDependencyFailure)
	}

	url, err := s.uploader.Upload(ctx, avatar)
	if err != nil {
		return nil, fmt.Errorf("%w: uploading avatar: %v", ErrDependencyFailure, err)
	}
	oldURL := conv.AvatarURL
	conv.AvatarURL = url

	actorName := s.displayName(ctx, actorID)
	text := fmt.Sprintf("%s changed the group photo", actorName)
	if err := s.postNotice(ctx, conv, store.NoticeAvatarChanged, text,
		map[string]string{"actor_id": actorID, "old_avatar_url": oldURL, "avatar_url": url},
		noticeTargets{recipients: conv.ParticipantIDs(), pushExclude: actorID}); err != nil {
		return nil, err
	}

	s.broadcast(ctx, conv.ParticipantIDs(), events.ConversationUpdated(conv))
	return conv, nil
}

// AddMember adds a user to a group. Adding an existing member is
// ErrInvalidArgument. The member_added event carries the full participant list
// so every client, the new member included, can rebuild membership from the
// event alone.
func (s *Service) AddMember(ctx context.Context, conversationID, actorID, newMemberID string) (*store.Conversation, error) {
	conv, err := s.getGroupForActor(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.HasParticipant(newMemberID) {
		return nil, fmt.Errorf("%w: %s is already a member", ErrInvalidArgument, newMemberID)
	}

	conv.Participants = append(conv.Participants, store.ParticipantState{UserID: newMemberID})

	actorName := s.displayName(ctx, actorID)
	memberName := s.displayName(ctx, newMemberID)
	text := fmt.Sprintf("%s added %s", actorName, memberName)
	if err := s.postNotice(ctx, conv, store.NoticeMemberAdded, text,
		map[string]string{"actor_id": actorID, "user_id": newMemberID},
		noticeTargets{recipients: conv.ParticipantIDs(), pushExclude: actorID, withMembership: true}); err != nil {
		return nil, err
	}
	return conv, nil
}

// LeaveGroup removes the caller from a group. Only the remaining members are
// notified; the leaver gets nothing. The conversation persists even when the
// last member leaves.
func (s *Service) LeaveGroup(ctx context.Context, conversationID, userID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant", ErrForbidden, userID)
	}

	remaining := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}
	conv.Participants = remaining

	leaverName := s.displayName(ctx, userID)
	text := fmt.Sprintf("%s left the group", leaverName)
	return s.postNotice(ctx, conv, store.NoticeMemberLeft, text,
		map[string]string{"user_id": userID},
		noticeTargets{recipients: conv.ParticipantIDs(), pushExclude: userID, withMembership: true})
}

// getGroupForActor loads a conversation and checks it is a group the actor
// belongs to.
func (s *Service) getGroupForActor(ctx context.Context, conversationID, actorID string) (*store.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}
	if !conv.HasParticipant(actorID) {
		return nil, fmt.Errorf("%w: %s is not a participant", ErrForbidden, actorID)
	}
	return conv, nil
}

// noticeTargets controls who hears about a system notice. recipients get the
// live event; pushExclude (the actor) and muted members are skipped on push.
type noticeTargets struct {
	recipients     []string
	pushExclude    string
	withMembership bool
}

// postNotice persists a system-sender message recording a structural change,
// updates the conversation preview, and delivers it. The conversation passed
// in already carries the structural change; both are saved here in
// message-then-conversation order.
func (s *Service) postNotice(ctx context.Context, conv *store.Conversation, kind, text string, metadata map[string]string, targets noticeTargets) error {
	content := store.NoticeContent(kind, text, metadata)

	ts := s.now()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       store.SystemSenderID,
		Content:        content,
		CreatedAt:      ts,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting notice: %w", err)
	}

	conv.LastMessage = &store.LastMessage{SenderID: store.SystemSenderID, Content: content, CreatedAt: ts}
	conv.UpdatedAt = ts
	conv.SeenBy = []string{}
	if err := s.store.ReplaceConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	var meta *events.MembershipMetadata
	if targets.withMembership {
		ids := conv.ParticipantIDs()
		meta = &events.MembershipMetadata{ParticipantIDs: ids, ParticipantCount: len(ids)}
	}
	s.broadcast(ctx, targets.recipients, events.NewMessage(msg, conv, identity.SystemSender(), meta))

	pushData := map[string]string{}
	for k, v := range metadata {
		pushData[k] = v
	}
	if meta != nil {
		pushData["participant_count"] = strconv.Itoa(meta.ParticipantCount)
	}
	s.delivery.EnqueuePush(s.pushRecipients(conv, targets.pushExclude),
		push.ForGroupEvent(conv.ID, conv.Name, kind, text, pushData))

	return nil
}

// displayName resolves a user's display name for notice text, degrading to
// the raw id when the directory cannot answer.
func (s *Service) displayName(ctx context.Context, userID string) string {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return userID
	}
	return user.Name()
}
