package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/types"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
)

// BuntStore is a single-file (or in-memory) embedded store. All entities are
// stored as JSON values under typed key prefixes.
type BuntStore struct {
	db *buntdb.DB
}

func NewBuntStore(cfg *config.Config) (Store, error) {
	db, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func setupBuntDB(cfg *config.Config) (*buntdb.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("messagets", "message:*", byCreatedAt)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// byCreatedAt orders stored message values chronologically. created_at
// marshals as RFC3339 with trailing fractional zeros trimmed, so its string
// order is not its time order ("...00.1Z" sorts after "...00.15Z"); the
// stamps must be parsed for comparison.
func byCreatedAt(a, b string) bool {
	ta, _ := time.Parse(time.RFC3339Nano, gjson.Get(a, "created_at").String())
	tb, _ := time.Parse(time.RFC3339Nano, gjson.Get(b, "created_at").String())
	return ta.Before(tb)
}

func translateBuntError(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (s *BuntStore) setJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

func (s *BuntStore) getJSON(key string, v interface{}) error {
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), v)
	})
	return translateBuntError(err)
}

func (s *BuntStore) StoreUser(_ context.Context, user types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	return s.setJSON("user:"+user.Id, user)
}

func (s *BuntStore) GetUser(_ context.Context, user *types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	return s.getJSON("user:"+user.Id, user)
}

func (s *BuntStore) CreateServer(_ context.Context, server *types.Server) error {
	if server.Id == "" {
		server.Id = uuid.New().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now()
	}
	return s.setJSON("server:"+server.Id, server)
}

func (s *BuntStore) GetServer(_ context.Context, server *types.Server) error {
	return s.getJSON("server:"+server.Id, server)
}

func (s *BuntStore) ServersForUser(_ context.Context, userId string) ([]*types.Server, error) {
	memberOf := make(map[string]struct{})
	servers := make([]*types.Server, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		err := tx.AscendKeys("member:*", func(key, value string) bool {
			parts := strings.SplitN(key, ":", 3)
			if len(parts) == 3 && parts[2] == userId {
				memberOf[parts[1]] = struct{}{}
			}
			return true
		})
		if err != nil {
			return err
		}
		return tx.AscendKeys("server:*", func(key, value string) bool {
			server := &types.Server{}
			if err := json.Unmarshal([]byte(value), server); err != nil {
				return true
			}
			if server.OwnerId == userId {
				servers = append(servers, server)
				return true
			}
			if _, ok := memberOf[server.Id]; ok {
				servers = append(servers, server)
			}
			return true
		})
	})
	return servers, err
}

func (s *BuntStore) CreateChannel(_ context.Context, channel *types.Channel) error {
	if channel.Id == "" {
		channel.Id = uuid.New().String()
	}
	if channel.Kind == "" {
		channel.Kind = types.ChannelKindText
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now()
	}
	return s.setJSON("channel:"+channel.Id, channel)
}

func (s *BuntStore) GetChannel(_ context.Context, channel *types.Channel) error {
	return s.getJSON("channel:"+channel.Id, channel)
}

func (s *BuntStore) ChannelsByServer(_ context.Context, serverId string) ([]*types.Channel, error) {
	channels := make([]*types.Channel, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("channel:*", func(key, value string) bool {
			channel := &types.Channel{}
			if err := json.Unmarshal([]byte(value), channel); err != nil {
				return true
			}
			if channel.ServerId == serverId {
				channels = append(channels, channel)
			}
			return true
		})
	})
	return channels, err
}

func memberKey(serverId, userId string) string {
	return "member:" + serverId + ":" + userId
}

func (s *BuntStore) AddMember(_ context.Context, membership types.Membership) error {
	if membership.CreatedAt.IsZero() {
		membership.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(membership)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		key := memberKey(membership.ServerId, membership.UserId)
		_, err := tx.Get(key)
		if err == nil {
			return ErrDuplicate
		}
		if err != buntdb.ErrNotFound {
			return err
		}
		_, _, err = tx.Set(key, string(raw), nil)
		return err
	})
}

func (s *BuntStore) HasMember(_ context.Context, serverId, userId string) (bool, error) {
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(memberKey(serverId, userId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return found, err
}

func (s *BuntStore) MembersByServer(_ context.Context, serverId string) ([]*types.Membership, error) {
	members := make([]*types.Membership, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("member:"+serverId+":*", func(key, value string) bool {
			membership := &types.Membership{}
			if err := json.Unmarshal([]byte(value), membership); err != nil {
				return true
			}
			members = append(members, membership)
			return true
		})
	})
	return members, err
}

func (s *BuntStore) CreateMessage(_ context.Context, message *types.Message) error {
	if message.Id == "" {
		message.Id = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	return s.setJSON("message:"+message.Id, message)
}

func (s *BuntStore) GetMessage(_ context.Context, message *types.Message) error {
	return s.getJSON("message:"+message.Id, message)
}

func (s *BuntStore) UpdateMessageContent(_ context.Context, message *types.Message) error {
	return s.patchMessage(message.Id, func(stored *types.Message) {
		stored.Content = message.Content
		stored.EditedAt = message.EditedAt
	})
}

func (s *BuntStore) MarkMessageDeleted(_ context.Context, messageId string) error {
	return s.patchMessage(messageId, func(stored *types.Message) {
		stored.Deleted = true
	})
}

// patchMessage applies a partial change to the stored record inside one
// write transaction, so concurrent writers never clobber each other's
// fields.
func (s *BuntStore) patchMessage(id string, apply func(*types.Message)) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		key := "message:" + id
		raw, err := tx.Get(key)
		if err != nil {
			return translateBuntError(err)
		}
		stored := &types.Message{}
		if err := json.Unmarshal([]byte(raw), stored); err != nil {
			return err
		}
		apply(stored)
		out, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(out), nil)
		return err
	})
}

func (s *BuntStore) MessagesByChannel(_ context.Context, channelId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.Descend("messagets", func(key, value string) bool {
			message := &types.Message{}
			if innerErr = json.Unmarshal([]byte(value), message); innerErr != nil {
				return false
			}
			if message.ChannelId != channelId {
				return true
			}
			messages = append(messages, message)
			return len(messages) < limit
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	return messages, err
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
