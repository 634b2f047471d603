package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/types"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(cfg *config.Config) (Store, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Server{}, &types.Membership{}, &types.Channel{}, &types.Message{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func translateGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) StoreUser(ctx context.Context, user types.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (s *GormStore) GetUser(ctx context.Context, user *types.User) error {
	return translateGormError(s.db.WithContext(ctx).First(user).Error)
}

func (s *GormStore) CreateServer(ctx context.Context, server *types.Server) error {
	if server.Id == "" {
		server.Id = uuid.New().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(server).Error
}

func (s *GormStore) GetServer(ctx context.Context, server *types.Server) error {
	return translateGormError(s.db.WithContext(ctx).First(server).Error)
}

func (s *GormStore) ServersForUser(ctx context.Context, userId string) ([]*types.Server, error) {
	servers := make([]*types.Server, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userId).
		Or("id IN (?)", s.db.Model(&types.Membership{}).Select("server_id").Where("user_id = ?", userId)).
		Find(&servers).Error
	return servers, err
}

func (s *GormStore) CreateChannel(ctx context.Context, channel *types.Channel) error {
	if channel.Id == "" {
		channel.Id = uuid.New().String()
	}
	if channel.Kind == "" {
		channel.Kind = types.ChannelKindText
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(channel).Error
}

func (s *GormStore) GetChannel(ctx context.Context, channel *types.Channel) error {
	return translateGormError(s.db.WithContext(ctx).First(channel).Error)
}

func (s *GormStore) ChannelsByServer(ctx context.Context, serverId string) ([]*types.Channel, error) {
	channels := make([]*types.Channel, 0)
	err := s.db.WithContext(ctx).Where("server_id = ?", serverId).Find(&channels).Error
	return channels, err
}

func (s *GormStore) AddMember(ctx context.Context, membership types.Membership) error {
	if membership.CreatedAt.IsZero() {
		membership.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&types.Membership{}).
			Where("server_id = ? AND user_id = ?", membership.ServerId, membership.UserId).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		return tx.Create(&membership).Error
	})
}

func (s *GormStore) HasMember(ctx context.Context, serverId, userId string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.Membership{}).
		Where("server_id = ? AND user_id = ?", serverId, userId).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) MembersByServer(ctx context.Context, serverId string) ([]*types.Membership, error) {
	members := make([]*types.Membership, 0)
	err := s.db.WithContext(ctx).Where("server_id = ?", serverId).Find(&members).Error
	return members, err
}

func (s *GormStore) CreateMessage(ctx context.Context, message *types.Message) error {
	if message.Id == "" {
		message.Id = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(message).Error
}

func (s *GormStore) GetMessage(ctx context.Context, message *types.Message) error {
	return translateGormError(s.db.WithContext(ctx).First(message).Error)
}

func (s *GormStore) UpdateMessageContent(ctx context.Context, message *types.Message) error {
	// Select forces zero-value columns through, an edit to "" must persist
	res := s.db.WithContext(ctx).Model(message).Select("content", "edited_at").Updates(message)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkMessageDeleted(ctx context.Context, messageId string) error {
	res := s.db.WithContext(ctx).Model(&types.Message{}).Where("id = ?", messageId).Update("deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) MessagesByChannel(ctx context.Context, channelId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelId).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (s *GormStore) Close() error {
	return nil
}
