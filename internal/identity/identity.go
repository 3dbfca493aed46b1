// ABOUTME: User directory boundary: profile reads and device-token pruning
// ABOUTME: Identity storage is owned elsewhere; this subsystem only consumes it

package identity

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when a requested user does not exist.
var ErrUserNotFound = errors.New("user not found")

// User is the slice of the external profile this subsystem reads: display
// identity for rendering, device tokens for push, and the soft-delete flag.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	AvatarURL    string
	DeviceTokens []string
	Deleted      bool
}

// Name returns the user's preferred display string.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Directory is the identity collaborator's boundary. RemoveDeviceToken is the
// single profile mutation this subsystem performs, and only ever on an
// explicit invalid-registration response from the push gateway.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) ([]*User, error)
	RemoveDeviceToken(ctx context.Context, userID, token string) error
}
