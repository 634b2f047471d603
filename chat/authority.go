package chat

import (
	"context"

	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

// Authority answers channel access questions. Channels never move between
// servers, so the channel -> server resolution is cached in a bounded LRU;
// ownership and membership are read from the store on every call so a
// revocation takes effect immediately.
type Authority struct {
	store    persistence.Store
	channels *lru.Cache // channel id -> owning server id
	log      hclog.Logger
}

func NewAuthority(store persistence.Store, cacheSize int, log hclog.Logger) (*Authority, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Authority{store: store, channels: cache, log: log}, nil
}

// CanAccessChannel reports whether userId may act in channelId: true iff the
// user owns the channel's server or has a membership row. Fails closed on any
// lookup error.
func (a *Authority) CanAccessChannel(ctx context.Context, userId, channelId string) bool {
	if userId == "" || channelId == "" {
		return false
	}
	serverId, err := a.resolveServer(ctx, channelId)
	if err != nil {
		if err != persistence.ErrNotFound {
			a.log.Error("could not resolve channel", "channel", channelId, "error", err)
		}
		return false
	}
	server := &types.Server{Id: serverId}
	if err := a.store.GetServer(ctx, server); err != nil {
		if err != persistence.ErrNotFound {
			a.log.Error("could not load server", "server", serverId, "error", err)
		}
		return false
	}
	if server.OwnerId == userId {
		return true
	}
	ok, err := a.store.HasMember(ctx, server.Id, userId)
	if err != nil {
		a.log.Error("could not check membership", "server", serverId, "user", userId, "error", err)
		return false
	}
	return ok
}

func (a *Authority) resolveServer(ctx context.Context, channelId string) (string, error) {
	if serverId, ok := a.channels.Get(channelId); ok {
		return serverId.(string), nil
	}
	channel := &types.Channel{Id: channelId}
	if err := a.store.GetChannel(ctx, channel); err != nil {
		return "", err
	}
	a.channels.Add(channelId, channel.ServerId)
	return channel.ServerId, nil
}
