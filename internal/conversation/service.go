// ABOUTME: Conversation orchestrator: every mutating operation on conversations and messages
// ABOUTME: Sequences persist, live fan-out, and push fallback; owns the domain error mapping

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/media"
	"github.com/reloapp/relo-server/internal/push"
	"github.com/reloapp/relo-server/internal/store"
)

// Deliverer is the delivery layer the orchestrator hands events to. Satisfied
// by *delivery.Dispatcher.
type Deliverer interface {
	FanOut(ctx context.Context, userIDs []string, env events.Envelope) error
	EnqueuePush(userIDs []string, note push.Notification)
}

// Service orchestrates all conversation mutations. It is safe for concurrent
// use; per-conversation timestamp ordering comes from the guarded clock, not
// from serializing operations.
type Service struct {
	store    store.Store
	dir      identity.Directory
	uploader media.Uploader
	delivery Deliverer
	logger   *slog.Logger

	// clockMu guards lastTick so timestamps within this process are strictly
	// increasing at millisecond precision, matching what the store retains.
	clockMu  sync.Mutex
	lastTick time.Time
}

// New creates the orchestrator. Pass nil logger for default.
func New(st store.Store, dir identity.Directory, uploader media.Uploader, del Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		dir:      dir,
		uploader: uploader,
		delivery: del,
		logger:   logger.With("component", "conversation"),
	}
}

// now returns a strictly increasing UTC timestamp truncated to millisecond
// precision.
func (s *Service) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := time.Now().UTC().Truncate(time.Millisecond)
	if !t.After(s.lastTick) {
		t = s.lastTick.Add(time.Millisecond)
	}
	s.lastTick = t
	return t
}

// GetOrCreate returns the existing direct conversation for a two-member set,
// creating it if absent, or always creates a new group. Direct participant
// sets are order-insensitive and duplicate ids collapse; fewer than two
// distinct members is ErrInvalidArgument. A named group gets a group_created
// notice delivered to every member.
func (s *Service) GetOrCreate(ctx context.Context, creatorID string, participantIDs []string, isGroup bool, name string) (*store.Conversation, error) {
	distinct := dedupe(participantIDs)
	if len(distinct) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least two distinct participants", ErrInvalidArgument)
	}

	if !isGroup {
		if len(distinct) != 2 {
			return nil, fmt.Errorf("%w: a direct conversation has exactly two participants", ErrInvalidArgument)
		}
		return s.getOrCreateDirect(ctx, distinct[0], distinct[1])
	}

	ts := s.now()
	conv := &store.Conversation{
		ID:           uuid.NewString(),
		Participants: participantStates(distinct),
		IsGroup:      true,
		Name:         name,
		SeenBy:       []string{},
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := s.store.InsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating group conversation: %w", err)
	}

	s.logger.Info("group conversation created",
		"conversation_id", conv.ID,
		"participants", len(conv.Participants))

	if name != "" {
		text := fmt.Sprintf("Group %q created", name)
		err := s.postNotice(ctx, conv, store.NoticeGroupCreated, text,
			map[string]string{"actor_id": creatorID, "name": name},
			noticeTargets{recipients: conv.ParticipantIDs(), pushExclude: creatorID})
		if err != nil {
			// The group itself exists; a missing creation notice is not
			// worth failing the call over.
			s.logger.Warn("group creation notice failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return conv, nil
}

func (s *Service) getOrCreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	existing, err := s.store.FindDirectConversation(ctx, userA, userB)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up direct conversation: %w", err)
	}

	ts := s.now()
	conv := &store.Conversation{
		ID:           uuid.NewString(),
		Participants: participantStates([]string{userA, userB}),
		DirectKey:    store.DirectKey(userA, userB),
		SeenBy:       []string{},
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	err = s.store.InsertConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Another request created the same pair between our lookup and
		// insert. The winner's row is the conversation.
		return s.store.FindDirectConversation(ctx, userA, userB)
	}
	if err != nil {
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}

	s.logger.Info("direct conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// Send persists a message, updates the conversation preview, fans the event
// out to every participant's live connections, and queues a push for non-muted
// recipients regardless of reachability. Attachments are uploaded before
// anything is written; an upload failure aborts the whole send.
func (s *Service) Send(ctx context.Context, senderID, conversationID string, content store.Content, attachments []media.Attachment) (*store.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: %s is not a participant", ErrForbidden, senderID)
	}

	content, err = s.resolveAttachments(ctx, content, attachments)
	if err != nil {
		return nil, err
	}
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	sender, senderName := s.lookupSender(ctx, senderID)

	ts := s.now()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      ts,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	conv.LastMessage = &store.LastMessage{SenderID: senderID, Content: content, CreatedAt: ts}
	conv.UpdatedAt = ts
	conv.SeenBy = []string{senderID}
	if err := s.store.ReplaceConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation preview: %w", err)
	}

	s.broadcast(ctx, conv.ParticipantIDs(), events.NewMessage(msg, conv, sender, nil))

	s.delivery.EnqueuePush(s.pushRecipients(conv, senderID), push.ForMessage(push.MessageInfo{
		ConversationID:   conv.ID,
		ConversationName: conv.Name,
		IsGroup:          conv.IsGroup,
		SenderID:         senderID,
		SenderName:       senderName,
		SenderAvatar:     sender.AvatarURL(),
		Content:          content,
	}))

	return msg, nil
}

// MarkSeen records that the user has seen the conversation's current state.
// Idempotent.
func (s *Service) MarkSeen(ctx context.Context, conversationID, userID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant", ErrForbidden, userID)
	}
	if err := s.store.AddSeen(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	return nil
}

// Recall replaces a message's content with the recall tombstone. Only the
// original sender may recall. When the recalled message is still the
// conversation preview the preview is tombstoned too, and every participant
// gets a recalled_message event.
func (s *Service) Recall(ctx context.Context, messageID, userID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.SenderID != userID {
		return nil, fmt.Errorf("%w: only the sender can recall a message", ErrForbidden)
	}

	msg.Content = store.RecalledContent()
	if err := s.store.ReplaceMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recalling message: %w", err)
	}

	conv, err := s.getConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.LastMessage != nil && conv.LastMessage.CreatedAt.Equal(msg.CreatedAt) {
		conv.LastMessage.Content = store.RecalledContent()
		if err := s.store.ReplaceConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("updating conversation preview: %w", err)
		}
	}

	sender, _ := s.lookupSender(ctx, userID)
	s.broadcast(ctx, conv.ParticipantIDs(), events.RecalledMessage(msg, conv, sender))

	return msg, nil
}

// DeleteForSelf hides all current messages from the calling participant by
// moving their delete horizon to now. Other participants are unaffected and
// only the caller is notified.
func (s *Service) DeleteForSelf(ctx context.Context, conversationID, userID string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	p := conv.Participant(userID)
	if p == nil {
		return fmt.Errorf("%w: %s is not a participant", ErrForbidden, userID)
	}

	ts := s.now()
	p.LastDeletedBefore = &ts
	if err := s.store.ReplaceConversation(ctx, conv); err != nil {
		return fmt.Errorf("recording delete horizon: %w", err)
	}

	s.broadcast(ctx, []string{userID}, events.ConversationDeleted(conv.ID))
	return nil
}

// ToggleMute sets the caller's mute flag for the conversation to the requested
// state and returns it. Idempotent, and purely local: no broadcast, no push.
func (s *Service) ToggleMute(ctx context.Context, conversationID, userID string, muted bool) (bool, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	p := conv.Participant(userID)
	if p == nil {
		return false, fmt.Errorf("%w: %s is not a participant", ErrForbidden, userID)
	}

	p.Muted = muted
	if err := s.store.ReplaceConversation(ctx, conv); err != nil {
		return false, fmt.Errorf("updating mute flag: %w", err)
	}
	return p.Muted, nil
}

// getConversation loads a conversation, mapping the store's not-found to the
// domain taxonomy.
func (s *Service) getConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// resolveAttachments uploads any attachments and folds the resulting URLs into
// the content before persistence. An upload failure aborts with
// ErrDependencyFailure and leaves no partial state.
func (s *Service) resolveAttachments(ctx context.Context, content store.Content, attachments []media.Attachment) (store.Content, error) {
	if len(attachments) == 0 {
		return content, nil
	}
	if s.uploader == nil {
		return content, fmt.Errorf("%w: no media uploader configured", ErrDependencyFailure)
	}

	for _, att := range attachments {
		url, err := s.uploader.Upload(ctx, att)
		if err != nil {
			return content, fmt.Errorf("%w: uploading %s: %v", ErrDependencyFailure, att.Name, err)
		}
		switch content.Type {
		case store.ContentImageSet:
			content.URLs = append(content.URLs, url)
		default:
			content.URL = url
			if content.Name == "" {
				content.Name = att.Name
			}
		}
	}
	return content, nil
}

// lookupSender resolves the sender reference and display name in one directory
// read. Lookup failures degrade to the raw id rather than failing the
// operation.
func (s *Service) lookupSender(ctx context.Context, senderID string) (identity.SenderRef, string) {
	user, err := s.dir.GetUser(ctx, senderID)
	if err != nil {
		return identity.TombstonedSender(senderID), senderID
	}
	if user.Deleted {
		return identity.TombstonedSender(senderID), user.Name()
	}
	return identity.RealSender(user.ID, user.AvatarURL), user.Name()
}

// broadcast fans an envelope out over live connections. Delivery failures are
// logged and never affect the persisted mutation.
func (s *Service) broadcast(ctx context.Context, userIDs []string, env events.Envelope) {
	if err := s.delivery.FanOut(ctx, userIDs, env); err != nil {
		s.logger.Warn("live fan-out failed",
			"event_type", env.Type,
			"recipients", len(userIDs),
			"error", err)
	}
}

// pushRecipients selects the participants that get a push for a conversation
// event: everyone except the actor and anyone who muted the conversation.
func (s *Service) pushRecipients(conv *store.Conversation, excludeID string) []string {
	var out []string
	for _, p := range conv.Participants {
		if p.UserID == excludeID || p.Muted {
			continue
		}
		out = append(out, p.UserID)
	}
	return out
}

func participantStates(ids []string) []store.ParticipantState {
	out := make([]store.ParticipantState, len(ids))
	for i, id := range ids {
		out[i] = store.ParticipantState{UserID: id}
	}
	return out
}

// dedupe collapses duplicate ids preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
