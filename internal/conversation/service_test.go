// ABOUTME: Orchestrator tests over the in-memory store and fake collaborators
// ABOUTME: Covers create/send/seen/recall/delete semantics and delivery targeting

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reloapp/relo-server/internal/events"
	"github.com/reloapp/relo-server/internal/identity"
	"github.com/reloapp/relo-server/internal/media"
	"github.com/reloapp/relo-server/internal/push"
	"github.com/reloapp/relo-server/internal/store"
)

// fakeDelivery records fan-outs and pushes synchronously.
type fakeDelivery struct {
	mu      sync.Mutex
	fanouts []fanoutCall
	pushes  []pushCall
}

type fanoutCall struct {
	userIDs []string
	env     events.Envelope
}

type pushCall struct {
	userIDs []string
	note    push.Notification
}

func (d *fakeDelivery) FanOut(ctx context.Context, userIDs []string, env events.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fanouts = append(d.fanouts, fanoutCall{userIDs: append([]string(nil), userIDs...), env: env})
	return nil
}

func (d *fakeDelivery) EnqueuePush(userIDs []string, note push.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, pushCall{userIDs: append([]string(nil), userIDs...), note: note})
}

func (d *fakeDelivery) lastFanout(t *testing.T) fanoutCall {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.fanouts)
	return d.fanouts[len(d.fanouts)-1]
}

func (d *fakeDelivery) lastPush(t *testing.T) pushCall {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.pushes)
	return d.pushes[len(d.pushes)-1]
}

// fakeUploader returns a deterministic URL per upload.
type fakeUploader struct {
	mu   sync.Mutex
	n    int
	fail error
}

func (u *fakeUploader) Upload(ctx context.Context, att media.Attachment) (string, error) {
	if u.fail != nil {
		return "", u.fail
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.n++
	return fmt.Sprintf("https://media.test/%d/%s", u.n, att.Name), nil
}

type fixture struct {
	svc      *Service
	store    *store.MockStore
	dir      *identity.MockDirectory
	delivery *fakeDelivery
	uploader *fakeUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMockStore(),
		dir: identity.NewMockDirectory(
			&identity.User{ID: "alice", Username: "alice", DisplayName: "Alice"},
			&identity.User{ID: "bob", Username: "bob", DisplayName: "Bob"},
			&identity.User{ID: "carol", Username: "carol", DisplayName: "Carol"},
			&identity.User{ID: "dave", Username: "dave", DisplayName: "Dave"},
		),
		delivery: &fakeDelivery{},
		uploader: &fakeUploader{},
	}
	f.svc = New(f.store, f.dir, f.uploader, f.delivery, nil)
	return f
}

func (f *fixture) directChat(t *testing.T) *store.Conversation {
	t.Helper()
	conv, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob"}, false, "")
	require.NoError(t, err)
	return conv
}

func (f *fixture) group(t *testing.T, members ...string) *store.Conversation {
	t.Helper()
	conv, err := f.svc.GetOrCreate(t.Context(), members[0], members, true, "")
	require.NoError(t, err)
	return conv
}

func TestGetOrCreate_DirectIsIdempotentAndOrderInsensitive(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob"}, false, "")
	require.NoError(t, err)

	second, err := f.svc.GetOrCreate(t.Context(), "bob", []string{"bob", "alice"}, false, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Duplicate ids collapse before the two-member check
	third, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob", "alice"}, false, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestGetOrCreate_RejectsDegenerateSets(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "alice"}, false, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.GetOrCreate(t.Context(), "alice", []string{"alice"}, true, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob", "carol"}, false, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetOrCreate_GroupsNeverDeduplicate(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob", "carol"}, true, "")
	require.NoError(t, err)
	second, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob", "carol"}, true, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestGetOrCreate_ConcurrentDirectYieldsOneConversation(t *testing.T) {
	f := newFixture(t)

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conv, err := f.svc.GetOrCreate(context.Background(), "alice", []string{"alice", "bob"}, false, "")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestGetOrCreate_NamedGroupPostsCreationNotice(t *testing.T) {
	f := newFixture(t)

	conv, err := f.svc.GetOrCreate(t.Context(), "alice", []string{"alice", "bob", "carol"}, true, "Trip")
	require.NoError(t, err)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.LastMessage)
	assert.Equal(t, store.SystemSenderID, fresh.LastMessage.SenderID)
	assert.Equal(t, store.ContentSystemNotice, fresh.LastMessage.Content.Type)
	assert.Equal(t, store.NoticeGroupCreated, fresh.LastMessage.Content.Notice.Kind)

	fo := f.delivery.lastFanout(t)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, fo.userIDs)
	assert.Equal(t, events.TypeNewMessage, fo.env.Type)
}

func TestSend_UpdatesStoreAndPushesOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)

	msg, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("hi"), nil)
	require.NoError(t, err)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.LastMessage)
	assert.Equal(t, "hi", fresh.LastMessage.Content.Text)
	assert.Equal(t, "alice", fresh.LastMessage.SenderID)
	assert.Equal(t, []string{"alice"}, fresh.SeenBy, "seen set resets to the sender")
	assert.Equal(t, msg.CreatedAt, fresh.UpdatedAt)

	// Every participant, sender included, gets the live event
	fo := f.delivery.lastFanout(t)
	assert.Equal(t, events.TypeNewMessage, fo.env.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fo.userIDs)

	// Push goes to the recipient regardless of reachability, titled with the
	// sender's display name
	pc := f.delivery.lastPush(t)
	assert.Equal(t, []string{"bob"}, pc.userIDs)
	assert.Equal(t, "Alice", pc.note.Title)
	assert.Equal(t, "hi", pc.note.Body)
}

func TestSend_MutedParticipantGetsNoPush(t *testing.T) {
	f := newFixture(t)
	conv := f.group(t, "alice", "bob", "carol")

	muted, err := f.svc.ToggleMute(t.Context(), conv.ID, "carol", true)
	require.NoError(t, err)
	assert.True(t, muted)

	_, err = f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("ping"), nil)
	require.NoError(t, err)

	pc := f.delivery.lastPush(t)
	assert.Equal(t, []string{"bob"}, pc.userIDs)

	// Muted members still get the live event
	fo := f.delivery.lastFanout(t)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, fo.userIDs)
}

func TestSend_RejectsOutsiderAndUnknownConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)

	_, err := f.svc.Send(t.Context(), "carol", conv.ID, store.TextContent("hi"), nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Send(t.Context(), "alice", "missing", store.TextContent("hi"), nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent(""), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSend_UploadsAttachmentsBeforePersist(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)

	msg, err := f.svc.Send(t.Context(), "alice", conv.ID,
		store.Content{Type: store.ContentImageSet},
		[]media.Attachment{
			{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("a")},
			{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("b")},
		})
	require.NoError(t, err)
	assert.Len(t, msg.Content.URLs, 2)
}

func TestSend_UploadFailureLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	f.uploader.fail = fmt.Errorf("media store down")

	_, err := f.svc.Send(t.Context(), "alice", conv.ID,
		store.Content{Type: store.ContentImageSet},
		[]media.Attachment{{Name: "a.jpg", Data: []byte("a")}})
	assert.ErrorIs(t, err, ErrDependencyFailure)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.LastMessage, "no message may exist after a failed upload")

	msgs, err := f.store.ListMessages(t.Context(), conv.ID, nil, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMarkSeen_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	_, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("hi"), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkSeen(t.Context(), conv.ID, "bob"))
	require.NoError(t, f.svc.MarkSeen(t.Context(), conv.ID, "bob"))

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fresh.SeenBy)

	assert.ErrorIs(t, f.svc.MarkSeen(t.Context(), conv.ID, "carol"), ErrForbidden)
}

func TestRecall_TombstonesMessageAndPreview(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	msg, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("oops"), nil)
	require.NoError(t, err)

	recalled, err := f.svc.Recall(t.Context(), msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, recalled.Content.IsRecalled())

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.True(t, fresh.LastMessage.Content.IsRecalled(), "preview follows the recalled latest message")

	fo := f.delivery.lastFanout(t)
	assert.Equal(t, events.TypeRecalledMessage, fo.env.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, fo.userIDs)
}

func TestRecall_OlderMessageLeavesPreviewAlone(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	first, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("first"), nil)
	require.NoError(t, err)
	_, err = f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("second"), nil)
	require.NoError(t, err)

	_, err = f.svc.Recall(t.Context(), first.ID, "alice")
	require.NoError(t, err)

	fresh, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", fresh.LastMessage.Content.Text)
}

func TestRecall_SenderOnly(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	msg, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("hi"), nil)
	require.NoError(t, err)

	_, err = f.svc.Recall(t.Context(), msg.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Recall(t.Context(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteForSelf_AffectsOnlyTheCaller(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	_, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("one"), nil)
	require.NoError(t, err)
	_, err = f.svc.Send(t.Context(), "bob", conv.ID, store.TextContent("two"), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteForSelf(t.Context(), conv.ID, "bob"))

	bobMsgs, err := f.svc.ListMessages(t.Context(), conv.ID, "bob", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, bobMsgs, "deleting participant sees nothing")

	aliceMsgs, err := f.svc.ListMessages(t.Context(), conv.ID, "alice", 0, 10)
	require.NoError(t, err)
	assert.Len(t, aliceMsgs, 2, "other participant's view is untouched")

	// Only the caller is notified
	fo := f.delivery.lastFanout(t)
	assert.Equal(t, events.TypeConversationDeleted, fo.env.Type)
	assert.Equal(t, []string{"bob"}, fo.userIDs)
}

func TestDeleteForSelf_NewMessagesReappear(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	_, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("old"), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteForSelf(t.Context(), conv.ID, "bob"))

	_, err = f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("new"), nil)
	require.NoError(t, err)

	msgs, err := f.svc.ListMessages(t.Context(), conv.ID, "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content.Text)
}

func TestListConversations_SuppressesDeletedPreview(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	_, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("hello"), nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteForSelf(t.Context(), conv.ID, "bob"))

	bobView, err := f.svc.ListConversations(t.Context(), "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Nil(t, bobView[0].LastMessage)

	aliceView, err := f.svc.ListConversations(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, aliceView, 1)
	require.NotNil(t, aliceView[0].LastMessage)
	assert.Equal(t, "hello", aliceView[0].LastMessage.Content.Text)
}

func TestListMessages_TombstonesDeletedSenders(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)
	_, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("before deletion"), nil)
	require.NoError(t, err)

	f.dir.Put(&identity.User{ID: "alice", Username: "alice", Deleted: true})

	msgs, err := f.svc.ListMessages(t.Context(), conv.ID, "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, identity.TombstonedSenderID, msgs[0].SenderID)
}

func TestToggleMute_SetsRequestedStateIdempotently(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)

	fanoutsBefore := len(f.delivery.fanouts)
	pushesBefore := len(f.delivery.pushes)

	// Repeating the same request must not flip the flag back
	for i := 0; i < 2; i++ {
		muted, err := f.svc.ToggleMute(t.Context(), conv.ID, "bob", true)
		require.NoError(t, err)
		assert.True(t, muted)
	}

	stored, err := f.store.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.True(t, stored.Participant("bob").Muted)

	muted, err := f.svc.ToggleMute(t.Context(), conv.ID, "bob", false)
	require.NoError(t, err)
	assert.False(t, muted)

	// No broadcast, no push for mute changes
	assert.Len(t, f.delivery.fanouts, fanoutsBefore)
	assert.Len(t, f.delivery.pushes, pushesBefore)
}

func TestTimestamps_StrictlyIncreasePerConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.directChat(t)

	var prev *store.Message
	for i := 0; i < 10; i++ {
		msg, err := f.svc.Send(t.Context(), "alice", conv.ID, store.TextContent("m"), nil)
		require.NoError(t, err)
		if prev != nil {
			assert.True(t, msg.CreatedAt.After(prev.CreatedAt))
		}
		prev = msg
	}
}
