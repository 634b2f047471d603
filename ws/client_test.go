package ws

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchEnv struct {
	hub     *Hub
	svc     *chat.Service
	store   persistence.Store
	channel *types.Channel
}

// newDispatchEnv wires a hub-backed service over a sqlite store with a
// server owned by "owner", a member "member" and one channel.
func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	store, err := persistence.NewStore(&config.Config{
		PersistenceConfig: config.PersistenceConfig{
			Type: "sqlite",
			DSN:  filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	server := &types.Server{Name: "home", OwnerId: "owner"}
	require.NoError(t, store.CreateServer(ctx, server))
	require.NoError(t, store.AddMember(ctx, types.Membership{ServerId: server.Id, UserId: "member"}))
	channel := &types.Channel{ServerId: server.Id, Name: "general"}
	require.NoError(t, store.CreateChannel(ctx, channel))

	hub, err := NewHub(&config.Config{}, hclog.NewNullLogger())
	require.NoError(t, err)
	authority, err := chat.NewAuthority(store, 16, hclog.NewNullLogger())
	require.NoError(t, err)
	svc := chat.NewService(store, authority, hub, time.Second, 50, 200, hclog.NewNullLogger())
	return &dispatchEnv{hub: hub, svc: svc, store: store, channel: channel}
}

func (e *dispatchEnv) client(userId string) *Client {
	c := NewClient(e.hub, nil, &types.User{Id: userId}, e.svc)
	e.hub.Register(c)
	return c
}

func frame(t *testing.T, event string, seq int64, payload interface{}) types.WebsocketMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.WebsocketMessage{Event: event, Seq: seq, Data: raw}
}

// recvAck pops one queued frame and decodes it as an acknowledgment.
func recvAck(t *testing.T, c *Client) types.Ack {
	t.Helper()
	select {
	case raw := <-c.send:
		ack := types.Ack{}
		require.NoError(t, json.Unmarshal(raw, &ack))
		return ack
	default:
		t.Fatal("no ack queued")
		return types.Ack{}
	}
}

func TestDispatchJoinAndCreate(t *testing.T) {
	env := newDispatchEnv(t)
	c := env.client("member")

	c.dispatch(frame(t, types.EventChannelJoin, 1, map[string]string{"channel_id": env.channel.Id}))
	ack := recvAck(t, c)
	assert.True(t, ack.Ok)
	assert.Equal(t, types.EventChannelJoin, ack.For)
	assert.Equal(t, int64(1), ack.Seq)
	assert.Equal(t, 1, env.hub.RoomSize(env.channel.Id))

	c.dispatch(frame(t, types.EventMessageCreate, 2, map[string]string{
		"channel_id": env.channel.Id, "content": "hello",
	}))
	ack = recvAck(t, c)
	require.True(t, ack.Ok)
	data := ack.Data.(map[string]interface{})
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "hello", data["content"])
	// the originating connection gets the ack, never its own message:new
	assert.Equal(t, 0, queuedFrames(c))
}

func TestDispatchCreateBroadcastsToRoom(t *testing.T) {
	env := newDispatchEnv(t)
	sender := env.client("member")
	observer := env.client("owner")

	require.True(t, env.hub.Join(sender, env.channel.Id))
	require.True(t, env.hub.Join(observer, env.channel.Id))
	recvPush(t, sender) // drain observer's presence:join

	sender.dispatch(frame(t, types.EventMessageCreate, 7, map[string]string{
		"channel_id": env.channel.Id, "content": "hi all",
	}))
	ack := recvAck(t, sender)
	require.True(t, ack.Ok)

	push := recvPush(t, observer)
	assert.Equal(t, types.EventMessageNew, push.Event)
	data := push.Data.Data.(map[string]interface{})
	assert.Equal(t, "hi all", data["content"])
	assert.Equal(t, 0, queuedFrames(sender), "sender receives only the ack")
}

func TestDispatchRejectsBadCommands(t *testing.T) {
	env := newDispatchEnv(t)
	c := env.client("member")

	c.dispatch(frame(t, "no:such:event", 1, nil))
	ack := recvAck(t, c)
	assert.False(t, ack.Ok)
	assert.Equal(t, chat.CodeInvalidInput, ack.Error.Code)

	c.dispatch(frame(t, types.EventChannelJoin, 2, map[string]string{}))
	ack = recvAck(t, c)
	assert.False(t, ack.Ok)
	assert.Equal(t, chat.CodeInvalidInput, ack.Error.Code)

	// a stranger may not join
	s := env.client("stranger")
	s.dispatch(frame(t, types.EventChannelJoin, 3, map[string]string{"channel_id": env.channel.Id}))
	ack = recvAck(t, s)
	assert.False(t, ack.Ok)
	assert.Equal(t, chat.CodeForbidden, ack.Error.Code)
}

func TestTeardownAbandonsInflightCommands(t *testing.T) {
	env := newDispatchEnv(t)
	c := env.client("member")

	// teardown has started: the connection context is cancelled and
	// commands must fail without reaching storage
	c.cancel()
	c.dispatch(frame(t, types.EventMessageCreate, 1, map[string]string{
		"channel_id": env.channel.Id, "content": "too late",
	}))
	ack := recvAck(t, c)
	assert.False(t, ack.Ok)

	messages, err := env.store.MessagesByChannel(context.Background(), env.channel.Id, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
