// ABOUTME: SenderRef sum type replacing the "system"/"deleted" sentinel strings
// ABOUTME: Resolved once at read time from the directory's soft-delete status

package identity

import (
	"context"
	"errors"
)

// Sentinel sender ids as they appear on the wire and in stored rows.
const (
	SystemSenderID     = "system"
	TombstonedSenderID = "deleted"
)

type senderKind int

const (
	senderSystem senderKind = iota
	senderReal
	senderTombstoned
)

// SenderRef identifies who authored a message: the reserved system sender, a
// real user, or a tombstoned (soft-deleted) user whose history remains visible
// under a placeholder identity.
type SenderRef struct {
	kind      senderKind
	userID    string
	avatarURL string
}

// SystemSender is the reserved sender for structural conversation events.
func SystemSender() SenderRef {
	return SenderRef{kind: senderSystem}
}

// RealSender references a live user.
func RealSender(userID, avatarURL string) SenderRef {
	return SenderRef{kind: senderReal, userID: userID, avatarURL: avatarURL}
}

// TombstonedSender references a soft-deleted user.
func TombstonedSender(userID string) SenderRef {
	return SenderRef{kind: senderTombstoned, userID: userID}
}

// IsSystem reports whether the sender is the reserved system identity.
func (r SenderRef) IsSystem() bool { return r.kind == senderSystem }

// IsTombstoned reports whether the sender's account is soft-deleted.
func (r SenderRef) IsTombstoned() bool { return r.kind == senderTombstoned }

// WireID renders the sender for client-facing payloads: the user id for real
// users, or the reserved sentinel for system and tombstoned senders.
func (r SenderRef) WireID() string {
	switch r.kind {
	case senderSystem:
		return SystemSenderID
	case senderTombstoned:
		return TombstonedSenderID
	default:
		return r.userID
	}
}

// AvatarURL returns the sender's avatar, empty for system and tombstoned
// senders.
func (r SenderRef) AvatarURL() string {
	if r.kind == senderReal {
		return r.avatarURL
	}
	return ""
}

// ResolveSender maps a stored sender id to a SenderRef, consulting the
// directory's soft-delete flag exactly once. Missing users are rendered as
// tombstoned rather than failing the read.
func ResolveSender(ctx context.Context, dir Directory, senderID string) (SenderRef, error) {
	if senderID == SystemSenderID {
		return SystemSender(), nil
	}

	user, err := dir.GetUser(ctx, senderID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TombstonedSender(senderID), nil
		}
		return SenderRef{}, err
	}
	if user.Deleted {
		return TombstonedSender(senderID), nil
	}
	return RealSender(user.ID, user.AvatarURL), nil
}
