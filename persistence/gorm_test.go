package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(&config.Config{
		PersistenceConfig: config.PersistenceConfig{
			Type: "sqlite",
			DSN:  filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormMessageLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	msg := &types.Message{ChannelId: "c1", AuthorId: "u1", Content: "hello"}
	require.NoError(t, store.CreateMessage(ctx, msg))
	require.NotEmpty(t, msg.Id)

	// empty-string edit must be persisted, not skipped as a zero value
	msg.Content = ""
	require.NoError(t, store.UpdateMessageContent(ctx, msg))
	got := &types.Message{Id: msg.Id}
	require.NoError(t, store.GetMessage(ctx, got))
	assert.Equal(t, "", got.Content)

	require.NoError(t, store.MarkMessageDeleted(ctx, msg.Id))
	got = &types.Message{Id: msg.Id}
	require.NoError(t, store.GetMessage(ctx, got))
	assert.True(t, got.Deleted)
}

func TestGormStaleEditCannotUndoSoftDelete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	msg := &types.Message{ChannelId: "c1", AuthorId: "u1", Content: "v1"}
	require.NoError(t, store.CreateMessage(ctx, msg))
	require.NoError(t, store.MarkMessageDeleted(ctx, msg.Id))

	// stale snapshot taken before the delete
	stale := &types.Message{Id: msg.Id, Content: "v2"}
	require.NoError(t, store.UpdateMessageContent(ctx, stale))

	got := &types.Message{Id: msg.Id}
	require.NoError(t, store.GetMessage(ctx, got))
	assert.True(t, got.Deleted)
	assert.Equal(t, "v2", got.Content)
}

func TestGormMembershipAndServers(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	server := &types.Server{Name: "s", OwnerId: "owner"}
	require.NoError(t, store.CreateServer(ctx, server))
	require.NoError(t, store.AddMember(ctx, types.Membership{ServerId: server.Id, UserId: "u2"}))
	assert.Equal(t, ErrDuplicate, store.AddMember(ctx, types.Membership{ServerId: server.Id, UserId: "u2"}))

	ok, err := store.HasMember(ctx, server.Id, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	servers, err := store.ServersForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, server.Id, servers[0].Id)
}
