// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without MongoDB while preserving Store semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing. It preserves the
// real store's semantics, including the unique direct-pair constraint that
// makes concurrent direct-chat creation race-safe.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	directIndex   map[string]string        // keyed by DirectKey -> conversation ID
	messages      map[string]*Message      // keyed by message ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		messages:      make(map[string]*Message),
	}
}

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Participants = append([]ParticipantState(nil), conv.Participants...)
	c.SeenBy = append([]string(nil), conv.SeenBy...)
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		c.LastMessage = &lm
	}
	return &c
}

func copyMessage(msg *Message) *Message {
	m := *msg
	return &m
}

// InsertConversation stores a new conversation, enforcing the direct-pair
// uniqueness constraint.
func (m *MockStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !conv.IsGroup && conv.DirectKey != "" {
		if _, exists := m.directIndex[conv.DirectKey]; exists {
			return ErrDuplicateConversation
		}
		m.directIndex[conv.DirectKey] = conv.ID
	}

	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// ReplaceConversation saves the whole conversation document.
func (m *MockStore) ReplaceConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// FindDirectConversation matches a non-group conversation by its exact
// two-member set.
func (m *MockStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.directIndex[DirectKey(userA, userB)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// ListConversationsForUser returns the user's conversations sorted by
// updatedAt descending.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, copyConversation(conv))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// AddSeen idempotently adds userID to the conversation's seenBy set.
func (m *MockStore) AddSeen(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range conv.SeenBy {
		if id == userID {
			return nil
		}
	}
	conv.SeenBy = append(conv.SeenBy, userID)
	return nil
}

// InsertMessage stores a new message.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.ID] = copyMessage(msg)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ReplaceMessage saves the whole message document.
func (m *MockStore) ReplaceMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ID] = copyMessage(msg)
	return nil
}

// ListMessages returns messages sorted by createdAt descending, restricted to
// those created strictly after the given horizon when one is set.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, after *time.Time, skip, limit int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if after != nil && !msg.CreatedAt.After(*after) {
			continue
		}
		out = append(out, copyMessage(msg))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if skip > 0 {
		if skip >= int64(len(out)) {
			return nil, nil
		}
		out = out[skip:]
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
