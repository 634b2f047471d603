package chat

import (
	"context"
	"time"

	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	"gorm.io/datatypes"
)

// Broadcaster fans a push event out to every live subscriber of a channel
// room, except the connection identified by excludeConn (empty string means
// no exclusion). Implemented by ws.Hub; injected here so the lifecycle
// operations never reach for ambient transport state.
type Broadcaster interface {
	Broadcast(channelId, event string, payload interface{}, excludeConn string)
}

// Service implements the message lifecycle operations. Every store call is
// bounded by the configured timeout so a stalled backend fails the triggering
// operation instead of wedging a connection.
type Service struct {
	store        persistence.Store
	authority    *Authority
	broadcaster  Broadcaster
	storeTimeout time.Duration
	historyLimit int
	historyCap   int
	log          hclog.Logger
}

func NewService(store persistence.Store, authority *Authority, broadcaster Broadcaster, storeTimeout time.Duration, historyLimit, historyCap int, log hclog.Logger) *Service {
	return &Service{
		store:        store,
		authority:    authority,
		broadcaster:  broadcaster,
		storeTimeout: storeTimeout,
		historyLimit: historyLimit,
		historyCap:   historyCap,
		log:          log,
	}
}

func (s *Service) CanAccessChannel(ctx context.Context, userId, channelId string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.authority.CanAccessChannel(ctx, userId, channelId)
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// CreateMessage persists a new message and broadcasts message:new to the
// channel room. When the create arrived over a live connection, originConn
// names it and it is excluded from the fan-out: its ack already carries the
// authoritative message.
func (s *Service) CreateMessage(ctx context.Context, authorId, channelId, content string, attachments datatypes.JSON, originConn string) (*types.Message, error) {
	if content == "" {
		return nil, ErrInvalidInput("content required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if !s.authority.CanAccessChannel(ctx, authorId, channelId) {
		return nil, ErrForbidden("no access to channel")
	}
	message := &types.Message{
		ChannelId:   channelId,
		AuthorId:    authorId,
		Content:     content,
		Attachments: attachments,
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		s.log.Error("could not persist message", "channel", channelId, "error", err)
		return nil, ErrServer("could not create message")
	}
	s.broadcaster.Broadcast(channelId, types.EventMessageNew, message, originConn)
	return message, nil
}

// EditMessage updates the content of the actor's own message. A nil content
// is missing input; an empty string is a valid short edit.
func (s *Service) EditMessage(ctx context.Context, actorId, messageId string, content *string, originConn string) (*types.Message, error) {
	if content == nil {
		return nil, ErrInvalidInput("content required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	message := &types.Message{Id: messageId}
	if err := s.store.GetMessage(ctx, message); err != nil {
		if err == persistence.ErrNotFound {
			return nil, ErrNotFound("message not found")
		}
		s.log.Error("could not load message", "message", messageId, "error", err)
		return nil, ErrServer("could not load message")
	}
	if message.AuthorId != actorId {
		return nil, ErrForbidden("only author can edit")
	}
	now := time.Now()
	message.Content = *content
	message.EditedAt = &now
	if err := s.store.UpdateMessageContent(ctx, message); err != nil {
		s.log.Error("could not persist edit", "message", messageId, "error", err)
		return nil, ErrServer("could not edit message")
	}
	s.broadcaster.Broadcast(message.ChannelId, types.EventMessageUpdate, message, originConn)
	return message, nil
}

// DeleteMessage soft-deletes the actor's own message. The broadcast carries
// only the id; the stored content is retained.
func (s *Service) DeleteMessage(ctx context.Context, actorId, messageId string, originConn string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	message := &types.Message{Id: messageId}
	if err := s.store.GetMessage(ctx, message); err != nil {
		if err == persistence.ErrNotFound {
			return ErrNotFound("message not found")
		}
		s.log.Error("could not load message", "message", messageId, "error", err)
		return ErrServer("could not load message")
	}
	if message.AuthorId != actorId {
		return ErrForbidden("only author can delete")
	}
	if err := s.store.MarkMessageDeleted(ctx, messageId); err != nil {
		s.log.Error("could not persist delete", "message", messageId, "error", err)
		return ErrServer("could not delete message")
	}
	s.broadcaster.Broadcast(message.ChannelId, types.EventMessageDelete, types.MessageDeletedPayload{Id: message.Id}, originConn)
	return nil
}

// ListMessages returns the most recent messages of a channel, newest first.
// Soft-deleted messages are not filtered out here; clients render tombstones
// from the deleted flag.
func (s *Service) ListMessages(ctx context.Context, userId, channelId string, limit int) ([]*types.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if !s.authority.CanAccessChannel(ctx, userId, channelId) {
		return nil, ErrForbidden("no access to channel")
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > s.historyCap {
		limit = s.historyCap
	}
	messages, err := s.store.MessagesByChannel(ctx, channelId, limit)
	if err != nil {
		s.log.Error("could not list messages", "channel", channelId, "error", err)
		return nil, ErrServer("could not list messages")
	}
	return messages, nil
}
