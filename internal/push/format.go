// ABOUTME: Notification formatting rules for message and group events
// ABOUTME: Title/body selection, content placeholders, and display truncation

package push

import (
	"github.com/reloapp/relo-server/internal/store"
)

// maxBodyRunes bounds the notification body for display.
const maxBodyRunes = 100

// MessageInfo carries what the formatter needs to describe a new message.
type MessageInfo struct {
	ConversationID   string
	ConversationName string
	IsGroup          bool
	SenderID         string
	SenderName       string
	SenderAvatar     string
	Content          store.Content
}

// ForMessage formats the push for a new message. Group conversations use the
// group name as the title (falling back to "Conversation") and prefix the
// body with the sender; direct conversations use the sender's display name as
// the title.
func ForMessage(info MessageInfo) Notification {
	body := bodyForContent(info.Content)

	var title string
	if info.IsGroup {
		title = info.ConversationName
		if title == "" {
			title = "Conversation"
		}
		body = info.SenderName + ": " + body
	} else {
		title = info.SenderName
	}

	return Notification{
		Title:          title,
		Body:           Truncate(body),
		ConversationID: info.ConversationID,
		ImageURL:       previewImage(info.Content),
		Data: map[string]string{
			"type":              "message",
			"conversation_id":   info.ConversationID,
			"conversation_name": info.ConversationName,
			"sender_id":         info.SenderID,
			"sender_name":       info.SenderName,
			"sender_avatar":     info.SenderAvatar,
			"content_type":      string(info.Content.Type),
			"is_group":          boolString(info.IsGroup),
		},
	}
}

// ForGroupEvent formats the push for a structural group event (membership,
// rename, avatar change). Metadata values are merged into the data payload
// already stringified.
func ForGroupEvent(conversationID, groupName, noticeKind, body string, metadata map[string]string) Notification {
	title := groupName
	if title == "" {
		title = "Conversation"
	}

	data := map[string]string{
		"type":              "group_event",
		"notification_type": noticeKind,
		"conversation_id":   conversationID,
	}
	for k, v := range metadata {
		data[k] = v
	}

	return Notification{
		Title:          title,
		Body:           Truncate(body),
		ConversationID: conversationID,
		Data:           data,
	}
}

// Truncate bounds a body to the display limit, appending an ellipsis when it
// was cut.
func Truncate(body string) string {
	runes := []rune(body)
	if len(runes) <= maxBodyRunes {
		return body
	}
	return string(runes[:maxBodyRunes]) + "..."
}

// bodyForContent renders a display placeholder for non-text contents.
func bodyForContent(c store.Content) string {
	switch c.Type {
	case store.ContentText:
		return c.Text
	case store.ContentImageSet:
		return "Sent a photo"
	case store.ContentAudio:
		return "Sent a voice message"
	case store.ContentFile:
		return "Sent a file"
	case store.ContentSystemNotice:
		if c.Notice != nil {
			return c.Notice.Text
		}
		return "Sent a message"
	default:
		return "Sent a message"
	}
}

// previewImage picks the notification preview image, if the content has one.
func previewImage(c store.Content) string {
	if c.Type == store.ContentImageSet && len(c.URLs) > 0 {
		return c.URLs[0]
	}
	return ""
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
