// ABOUTME: Tests for group rename, avatar change, and membership operations
// ABOUTME: Verifies notice content, membership metadata, and notification asymmetry

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/media"
	"github.com/reloapp/relo-server/internal/store"
)

func TestUpdateGroupName_PostsNoticeToEveryone(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob", "carol")

	updated, err := f.svc.UpdateGroupName(t.Context(), conv.ID, "alice", "Weekend Plans")
	require.NoError(t, err)
	assert.Equal(t, "Weekend Plans", updated.Name)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekend Plans", fresh.Name)
	require.NotNil(t, fresh.LastMessage)
	assert.Equal(t, store.NoticeNameChanged, fresh.LastMessage.Content.Notice.Kind)
	assert.Equal(t, "alice", fresh.LastMessage.Content.Notice.Metadata["actor_id"])
	assert.Equal(t, "Weekend Plans", fresh.LastMessage.Content.Notice.Metadata["new_name"])

	fo := f.delivery.lastFanout(t)
	assert.Equal(t, events.TypeNewMessage, fo.env.Type)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, fo.userIDs)

	// Push skips the actor
	pc := f.delivery.lastPush(t)
	assert.ElementsMatch(t, []string{"bob", "carol"}, pc.userIDs)
}

func TestUpdateGroupName_GroupOnly(t *testing.T) {
	f := newFixture(t)
	direct := f.directChat(t)

	_, err := f.svc.UpdateGroupName(t.Context(), direct.ID, "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	conv := f.group(t, "alice", "bob")
	_, err = f.svc.UpdateGroupName(t.Context(), conv.ID, "carol", "nope")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateGroupAvatar_UploadsAndEmitsConversationUpdated(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob")

	updated, err := f.svc.UpdateGroupAvatar(t.Context(), conv.ID, "alice",
		media.Attachment{Name: "group.png", ContentType: "image/png", Data: []byte("png")})
	require.NoError(t, err)
	assert.Contains(t, updated.AvatarURL, "group.png")

	// Notice first, then the conversation_updated refresh
	fo := f.delivery.lastFanout(t)
	assert.Equal(t, events.TypeConversationUpdated, fo.env.Type)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.AvatarURL, fresh.AvatarURL)
	assert.Equal(t, store.NoticeAvatarChanged, fresh.LastMessage.Content.Notice.Kind)
	assert.Empty(t, fresh.LastMessage.Content.Notice.Metadata["old_avatar_url"])

	// A second change records the URL it replaced
	again, err := f.svc.UpdateGroupAvatar(t.Context(), conv.ID, "alice",
		media.Attachment{Name: "group2.png", ContentType: "image/png", Data: []byte("png")})
	require.NoError(t, err)

	fresh, err = f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	meta := fresh.LastMessage.Content.Notice.Metadata
	assert.Equal(t, updated.AvatarURL, meta["old_avatar_url"])
	assert.Equal(t, again.AvatarURL, meta["avatar_url"])
}

func TestUpdateGroupAvatar_UploadFailureAborts(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob")
	f.uploader.fail = assert.AnError

	_, err := f.svc.UpdateGroupAvatar(t.Context(), conv.ID, "alice",
		media.Attachment{Name: "group.png", Data: []byte("png")})
	assert.ErrorIs(t, err, ErrDependencyFailure)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.AvatarURL)
	assert.Nil(t, fresh.LastMessage, "no notice after a failed upload")
}

func TestAddMember_DeliversMembershipMetadataToAll(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob", "carol")

	updated, err := f.svc.AddMember(t.Context(), conv.ID, "alice", "dave")
	require.NoError(t, err)
	assert.Len(t, updated.Participants, 4)

	// Everyone including the new member gets the event
	fo := f.delivery.lastFanout(t)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol", "dave"}, fo.userIDs)

	payload, ok := fo.env.Payload.(events.MessagePayload)
	require.True(t, ok)
	require.NotNil(t, payload.Metadata)
	assert.Equal(t, 4, payload.Metadata.ParticipantCount)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol", "dave"}, payload.Metadata.ParticipantIDs)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NoticeMemberAdded, fresh.LastMessage.Content.Notice.Kind)
}

func TestAddMember_DuplicateFails(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob")

	_, err := f.svc.AddMember(t.Context(), conv.ID, "alice", "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.Participants, 2, "membership unchanged after a rejected add")
}

func TestAddMember_StartsUnmuted(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob")

	updated, err := f.svc.AddMember(t.Context(), conv.ID, "alice", "carol")
	require.NoError(t, err)

	p := updated.Participant("carol")
	require.NotNil(t, p)
	assert.False(t, p.Muted)
	assert.Nil(t, p.LastDeletedBefore)
}

func TestLeaveGroup_NotifiesRemainingOnly(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob", "carol")

	require.NoError(t, f.svc.LeaveGroup(t.Context(), conv.ID, "carol"))

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fresh.ParticipantIDs())
	assert.Equal(t, store.NoticeMemberLeft, fresh.LastMessage.Content.Notice.Kind)

	fo := f.delivery.lastFanout(t)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fo.userIDs, "the leaver hears nothing")

	pc := f.delivery.lastPush(t)
	assert.ElementsMatch(t, []string{"alice", "bob"}, pc.userIDs)
}

func TestLeaveGroup_LastMemberLeavesConversationLingers(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob")

	require.NoError(t, f.svc.LeaveGroup(t.Context(), conv.ID, "alice"))
	require.NoError(t, f.svc.LeaveGroup(t.Context(), conv.ID, "bob"))

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Participants)
}

func TestLeaveGroup_Guards(t *testing.T) {
	f := newFixture(t)
	direct := f.directChat(t)
	assert.ErrorIs(t, f.svc.LeaveGroup(t.Context(), direct.ID, "alice"), ErrInvalidArgument)

	conv := f.group(t, "alice", "bob")
	assert.ErrorIs(t, f.svc.LeaveGroup(t.Context(), conv.ID, "carol"), ErrForbidden)
}
