package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store is the durable backend for users, servers, channels, memberships and
// messages. Get* methods fill the passed struct by its Id. Message deletion
// is always soft (MarkMessageDeleted sets the flag), never a physical delete.
type Store interface {
	StoreUser(ctx context.Context, user types.User) error
	GetUser(ctx context.Context, user *types.User) error

	CreateServer(ctx context.Context, server *types.Server) error
	GetServer(ctx context.Context, server *types.Server) error
	ServersForUser(ctx context.Context, userId string) ([]*types.Server, error)

	CreateChannel(ctx context.Context, channel *types.Channel) error
	GetChannel(ctx context.Context, channel *types.Channel) error
	ChannelsByServer(ctx context.Context, serverId string) ([]*types.Channel, error)

	AddMember(ctx context.Context, membership types.Membership) error
	HasMember(ctx context.Context, serverId, userId string) (bool, error)
	MembersByServer(ctx context.Context, serverId string) ([]*types.Membership, error)

	CreateMessage(ctx context.Context, message *types.Message) error
	GetMessage(ctx context.Context, message *types.Message) error
	// UpdateMessageContent writes the message's content and edit stamp. The
	// deleted flag is never touched here, a stale in-memory snapshot cannot
	// undo a concurrent soft delete.
	UpdateMessageContent(ctx context.Context, message *types.Message) error
	// MarkMessageDeleted sets the soft delete flag; content stays stored.
	MarkMessageDeleted(ctx context.Context, messageId string) error
	// MessagesByChannel returns the most recent messages, descending by
	// creation time.
	MessagesByChannel(ctx context.Context, channelId string, limit int) ([]*types.Message, error)

	Close() error
}

// NewStore creates the store selected by the persistence configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.PersistenceConfig.Type {
	case "sqlite", "postgres":
		return NewGormStore(cfg)
	case "buntdb":
		return NewBuntStore(cfg)
	case "":
		return nil, fmt.Errorf("no persistence configured")
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
