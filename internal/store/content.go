// ABOUTME: Message content as a tagged union with one variant per content kind
// ABOUTME: Replaces the loose type-discriminated map the clients send on the wire

package store

import (
	"errors"
	"fmt"
)

// ContentType discriminates the content union.
type ContentType string

// Content variants.
const (
	ContentText         ContentType = "text"
	ContentImageSet     ContentType = "image_set"
	ContentAudio        ContentType = "audio"
	ContentFile         ContentType = "file"
	ContentSystemNotice ContentType = "system_notice"
	ContentRecalled     ContentType = "recalled"
)

// Notice kinds for system_notice contents.
const (
	NoticeGroupCreated  = "group_created"
	NoticeNameChanged   = "name_changed"
	NoticeAvatarChanged = "avatar_changed"
	NoticeMemberAdded   = "member_added"
	NoticeMemberLeft    = "member_left"
)

// ErrInvalidContent is returned when a content value does not satisfy its
// variant's shape.
var ErrInvalidContent = errors.New("invalid message content")

// Content is the tagged union over message payloads. Exactly the fields of the
// active variant are set:
//
//	text          Text
//	image_set     URLs
//	audio, file   URL, Name (file only)
//	system_notice Notice
//	recalled      (no payload)
type Content struct {
	Type ContentType `bson:"type" json:"type"`
	Text string      `bson:"text,omitempty" json:"text,omitempty"`
	URL  string      `bson:"url,omitempty" json:"url,omitempty"`
	URLs []string    `bson:"urls,omitempty" json:"urls,omitempty"`
	Name string      `bson:"name,omitempty" json:"name,omitempty"`
	// Notice is set only for system_notice contents.
	Notice *Notice `bson:"notice,omitempty" json:"notice,omitempty"`
}

// Notice records a structural conversation event authored by the system
// sender.
type Notice struct {
	Kind     string            `bson:"kind" json:"kind"`
	Text     string            `bson:"text" json:"text"`
	Metadata map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// TextContent builds a text content value.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// NoticeContent builds a system_notice content value.
func NoticeContent(kind, text string, metadata map[string]string) Content {
	return Content{Type: ContentSystemNotice, Notice: &Notice{Kind: kind, Text: text, Metadata: metadata}}
}

// RecalledContent is the tombstone that replaces a recalled message's payload.
func RecalledContent() Content {
	return Content{Type: ContentRecalled}
}

// Validate checks the union invariant: the active variant's fields are set and
// nothing else applies.
func (c Content) Validate() error {
	switch c.Type {
	case ContentText:
		if c.Text == "" {
			return fmt.Errorf("%w: text content requires text", ErrInvalidContent)
		}
	case ContentImageSet:
		if len(c.URLs) == 0 {
			return fmt.Errorf("%w: image_set content requires at least one url", ErrInvalidContent)
		}
	case ContentAudio, ContentFile:
		if c.URL == "" {
			return fmt.Errorf("%w: %s content requires a url", ErrInvalidContent, c.Type)
		}
	case ContentSystemNotice:
		if c.Notice == nil || c.Notice.Kind == "" {
			return fmt.Errorf("%w: system_notice content requires a notice kind", ErrInvalidContent)
		}
	case ContentRecalled:
		// Tombstone carries no payload.
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, c.Type)
	}
	return nil
}

// IsRecalled reports whether the content has been replaced by the recall
// tombstone.
func (c Content) IsRecalled() bool {
	return c.Type == ContentRecalled
}
