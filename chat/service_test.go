package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	ChannelId string
	Event     string
	Payload   interface{}
	Exclude   string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) Broadcast(channelId, event string, payload interface{}, excludeConn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{channelId, event, payload, excludeConn})
}

func (b *recordingBroadcaster) recorded() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

func newTestService(t *testing.T) (*Service, *recordingBroadcaster, persistence.Store, *types.Channel) {
	t.Helper()
	store := newTestStore(t)
	channel := seedChannel(t, store)
	authority, err := NewAuthority(store, 16, hclog.NewNullLogger())
	require.NoError(t, err)
	broadcaster := &recordingBroadcaster{}
	svc := NewService(store, authority, broadcaster, time.Second, 2, 3, hclog.NewNullLogger())
	return svc, broadcaster, store, channel
}

func TestCreateMessageRoundTrip(t *testing.T) {
	svc, broadcaster, _, channel := newTestService(t)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, "member", channel.Id, "hello", nil, "conn-1")
	require.NoError(t, err)
	require.NotEmpty(t, msg.Id)

	messages, err := svc.ListMessages(ctx, "owner", channel.Id, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.Id, messages[0].Id)
	assert.Equal(t, "hello", messages[0].Content)

	events := broadcaster.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventMessageNew, events[0].Event)
	assert.Equal(t, channel.Id, events[0].ChannelId)
	assert.Equal(t, "conn-1", events[0].Exclude)
}

func TestCreateMessageValidation(t *testing.T) {
	svc, broadcaster, _, channel := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateMessage(ctx, "member", channel.Id, "", nil, "")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	_, err = svc.CreateMessage(ctx, "stranger", channel.Id, "hi", nil, "")
	assert.Equal(t, CodeForbidden, CodeOf(err))

	assert.Empty(t, broadcaster.recorded())
}

func TestEditMessage(t *testing.T) {
	svc, broadcaster, _, channel := newTestService(t)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, "member", channel.Id, "draft", nil, "")
	require.NoError(t, err)

	newContent := "final"
	edited, err := svc.EditMessage(ctx, "member", msg.Id, &newContent, "")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	require.NotNil(t, edited.EditedAt)

	events := broadcaster.recorded()
	require.Len(t, events, 2)
	// the update must never be emitted before the preceding create
	assert.Equal(t, types.EventMessageNew, events[0].Event)
	assert.Equal(t, types.EventMessageUpdate, events[1].Event)
}

func TestEditMessageEmptyVsMissingContent(t *testing.T) {
	svc, _, _, channel := newTestService(t)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, "member", channel.Id, "oops", nil, "")
	require.NoError(t, err)

	_, err = svc.EditMessage(ctx, "member", msg.Id, nil, "")
	assert.Equal(t, CodeInvalidInput, CodeOf(err), "missing content is invalid")

	empty := ""
	edited, err := svc.EditMessage(ctx, "member", msg.Id, &empty, "")
	require.NoError(t, err, "empty string is a valid short edit")
	assert.Equal(t, "", edited.Content)
}

func TestEditAndDeleteAuthorOnly(t *testing.T) {
	svc, _, _, channel := newTestService(t)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, "member", channel.Id, "mine", nil, "")
	require.NoError(t, err)

	content := "hijack"
	// even the server owner may not touch someone else's message
	_, err = svc.EditMessage(ctx, "owner", msg.Id, &content, "")
	assert.Equal(t, CodeForbidden, CodeOf(err))
	assert.Equal(t, CodeForbidden, CodeOf(svc.DeleteMessage(ctx, "owner", msg.Id, "")))

	_, err = svc.EditMessage(ctx, "member", "no-such-id", &content, "")
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, CodeNotFound, CodeOf(svc.DeleteMessage(ctx, "member", "no-such-id", "")))
}

func TestDeleteMessageSoft(t *testing.T) {
	svc, broadcaster, store, channel := newTestService(t)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, "member", channel.Id, "secret", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteMessage(ctx, "member", msg.Id, ""))

	stored := &types.Message{Id: msg.Id}
	require.NoError(t, store.GetMessage(ctx, stored))
	assert.True(t, stored.Deleted)
	assert.Equal(t, "secret", stored.Content, "content is retained in storage")

	events := broadcaster.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventMessageDelete, events[1].Event)
	// the delete broadcast carries only the id
	assert.Equal(t, types.MessageDeletedPayload{Id: msg.Id}, events[1].Payload)

	// deleted messages still appear in history, hiding is a client concern
	messages, err := svc.ListMessages(ctx, "member", channel.Id, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Deleted)
}

func TestListMessagesLimits(t *testing.T) {
	svc, _, _, channel := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateMessage(ctx, "member", channel.Id, "m", nil, "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct createdAt for stable ordering
	}

	// limit 0 falls back to the configured default (2)
	messages, err := svc.ListMessages(ctx, "member", channel.Id, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// requests above the hard cap (3) are clamped
	messages, err = svc.ListMessages(ctx, "member", channel.Id, 100)
	require.NoError(t, err)
	assert.Len(t, messages, 3)

	_, err = svc.ListMessages(ctx, "stranger", channel.Id, 1)
	assert.Equal(t, CodeForbidden, CodeOf(err))
}
