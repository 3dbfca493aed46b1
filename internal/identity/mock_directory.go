// ABOUTME: Mock Directory implementation for testing
// ABOUTME: Allows tests to run without MongoDB

package identity

import (
	"context"
	"sync"
)

// MockDirectory is an in-memory Directory for tests.
type MockDirectory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMockDirectory creates a MockDirectory seeded with the given users.
func NewMockDirectory(users ...*User) *MockDirectory {
	d := &MockDirectory{users: make(map[string]*User)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user.
func (d *MockDirectory) Put(u *User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := *u
	c.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	d.users[c.ID] = &c
}

// GetUser retrieves a user by id.
func (d *MockDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	c.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	return &c, nil
}

// GetUsers retrieves users by id; missing ids are omitted.
func (d *MockDirectory) GetUsers(ctx context.Context, ids []string) ([]*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			c := *u
			c.DeviceTokens = append([]string(nil), u.DeviceTokens...)
			out = append(out, &c)
		}
	}
	return out, nil
}

// RemoveDeviceToken prunes one device registration.
func (d *MockDirectory) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return nil
	}
	tokens := u.DeviceTokens[:0]
	for _, t := range u.DeviceTokens {
		if t != token {
			tokens = append(tokens, t)
		}
	}
	u.DeviceTokens = tokens
	return nil
}
