package client

import (
	"testing"
	"time"

	"github.com/clamor-chat/clamor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCall struct {
	TempId    string
	ChannelId string
	Content   string
}

func newTestOutbox() (*Outbox, *[]sentCall) {
	calls := &[]sentCall{}
	outbox := NewOutbox("c1", "me", func(tempId, channelId, content string) {
		*calls = append(*calls, sentCall{tempId, channelId, content})
	})
	return outbox, calls
}

func TestSubmitRendersBeforeAck(t *testing.T) {
	outbox, calls := newTestOutbox()

	tempId := outbox.Submit("hello")
	require.NotEmpty(t, tempId)

	timeline := outbox.Timeline()
	require.Len(t, timeline, 1)
	assert.Equal(t, StatusSending, timeline[0].Status)
	assert.Equal(t, "hello", timeline[0].Message.Content)
	assert.Equal(t, tempId, timeline[0].Message.Id)
	assert.True(t, timeline[0].Pending())

	require.Len(t, *calls, 1)
	assert.Equal(t, sentCall{tempId, "c1", "hello"}, (*calls)[0])
}

func TestConfirmReplacesInPlace(t *testing.T) {
	outbox, _ := newTestOutbox()

	outbox.Ingest(types.Message{Id: "srv_0", ChannelId: "c1", Content: "earlier"})
	tempId := outbox.Submit("hello")

	outbox.Confirm(tempId, types.Message{Id: "srv_1", ChannelId: "c1", AuthorId: "me", Content: "hello", CreatedAt: time.Now()})

	timeline := outbox.Timeline()
	require.Len(t, timeline, 2)
	// same position, authoritative id, temp id and status dropped
	assert.Equal(t, "srv_1", timeline[1].Message.Id)
	assert.Equal(t, "hello", timeline[1].Message.Content)
	assert.Empty(t, timeline[1].TempId)
	assert.Empty(t, timeline[1].Status)
	assert.False(t, timeline[1].Pending())
}

func TestFailAndRetry(t *testing.T) {
	outbox, calls := newTestOutbox()

	tempId := outbox.Submit("hello")
	outbox.Fail(tempId)

	timeline := outbox.Timeline()
	require.Len(t, timeline, 1)
	assert.Equal(t, StatusFailed, timeline[0].Status)
	assert.Equal(t, "hello", timeline[0].Message.Content, "content retained for retry")

	require.True(t, outbox.Retry(tempId))
	timeline = outbox.Timeline()
	assert.Equal(t, StatusSending, timeline[0].Status)
	require.Len(t, *calls, 2)
	assert.Equal(t, (*calls)[0].TempId, (*calls)[1].TempId, "retry reuses the temp id")

	outbox.Confirm(tempId, types.Message{Id: "srv_9", Content: "hello"})
	timeline = outbox.Timeline()
	assert.Equal(t, "srv_9", timeline[0].Message.Id)
}

func TestRetryOnlyFailedEntries(t *testing.T) {
	outbox, _ := newTestOutbox()
	tempId := outbox.Submit("hello")
	assert.False(t, outbox.Retry(tempId), "sending entries cannot be retried")
	assert.False(t, outbox.Retry("unknown"))
}

func TestIngestDeduplicatesById(t *testing.T) {
	outbox, _ := newTestOutbox()

	outbox.Ingest(types.Message{Id: "srv_1", Content: "hi"})
	outbox.Ingest(types.Message{Id: "srv_1", Content: "hi"})
	assert.Len(t, outbox.Timeline(), 1, "duplicate broadcast is ignored")

	outbox.Ingest(types.Message{Id: "srv_2", Content: "other"})
	assert.Len(t, outbox.Timeline(), 2)
}

func TestConfirmAfterEchoDropsPendingEntry(t *testing.T) {
	outbox, _ := newTestOutbox()

	tempId := outbox.Submit("hello")
	// the broadcast echo for our own message arrives before the ack
	outbox.Ingest(types.Message{Id: "srv_1", Content: "hello"})
	outbox.Confirm(tempId, types.Message{Id: "srv_1", Content: "hello"})

	timeline := outbox.Timeline()
	require.Len(t, timeline, 1, "no duplicate entry for the same authoritative id")
	assert.Equal(t, "srv_1", timeline[0].Message.Id)
}

func TestApplyUpdateAndDelete(t *testing.T) {
	outbox, _ := newTestOutbox()

	outbox.Ingest(types.Message{Id: "srv_1", Content: "original"})
	outbox.ApplyUpdate(types.Message{Id: "srv_1", Content: "edited"})
	timeline := outbox.Timeline()
	assert.Equal(t, "edited", timeline[0].Message.Content)

	// an update for a create we never observed is dropped
	outbox.ApplyUpdate(types.Message{Id: "srv_404", Content: "ghost"})
	assert.Len(t, outbox.Timeline(), 1)

	outbox.ApplyDelete("srv_1")
	timeline = outbox.Timeline()
	assert.True(t, timeline[0].Message.Deleted)
	assert.Equal(t, "edited", timeline[0].Message.Content, "entry content retained, hidden by the flag")
}

func TestTempIdsAreUnique(t *testing.T) {
	outbox, _ := newTestOutbox()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := outbox.Submit("same content")
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
