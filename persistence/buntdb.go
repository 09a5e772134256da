package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
	"github.com/tidwall/buntdb"
)

// Key layout:
//
//	msg:<roomId>:<created unix nanos, 20 digits>:<messageId>  message JSON, reactions included
//	msgid:<messageId>                                         key of the message
//	user:<userId>                                             user JSON
//
// Room ids never contain ':', so a room's messages form one key range ordered by creation time.
type BuntDBPersist struct {
	db *buntdb.DB
}

type buntUser struct {
	types.User
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewBuntPersister(cfg config.PersistenceConfig) (*BuntDBPersist, error) {
	fileName := cfg.DSN
	if fileName == "" {
		return nil, fmt.Errorf("persistence.dsn is required for buntdb")
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func buntErr(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func roomPrefix(roomId string) string {
	return "msg:" + roomId + ":"
}

func messageKey(msg *types.ChatMessage) string {
	return fmt.Sprintf("%s%020d:%s", roomPrefix(msg.RoomId), msg.CreatedAt.UnixNano(), msg.Id)
}

func (p *BuntDBPersist) StoreUser(_ context.Context, user types.User) error {
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		now := time.Now().UTC()
		bu := buntUser{User: user, CreatedAt: now, UpdatedAt: now}
		if old, err := tx.Get("user:" + user.Id); err == nil {
			prev := buntUser{}
			if json.Unmarshal([]byte(old), &prev) == nil {
				bu.CreatedAt = prev.CreatedAt
			}
		}
		u, err := json.Marshal(bu)
		if err != nil {
			return err
		}
		_, _, err = tx.Set("user:"+user.Id, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(_ context.Context, userId string) (*types.User, error) {
	if userId == "" {
		return nil, ErrNotFound
	}
	var user *types.User
	err := p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + userId)
		if err != nil {
			return buntErr(err)
		}
		user, err = decodeUser(u)
		return err
	})
	return user, err
}

func (p *BuntDBPersist) GetUsers(_ context.Context) ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys("user:*", func(key, value string) bool {
			u, err := decodeUser(value)
			if err != nil {
				decodeErr = err
				return false
			}
			users = append(users, u)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
	return users, err
}

func decodeUser(value string) (*types.User, error) {
	bu := buntUser{}
	if err := json.Unmarshal([]byte(value), &bu); err != nil {
		return nil, err
	}
	u := bu.User
	u.CreatedAt = bu.CreatedAt
	u.UpdatedAt = bu.UpdatedAt
	return &u, nil
}

func (p *BuntDBPersist) DeleteUser(_ context.Context, userId string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("user:" + userId)
		return buntErr(err)
	})
}

func (p *BuntDBPersist) CreateMessage(_ context.Context, msg *types.ChatMessage) error {
	stamp(msg)
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := messageKey(msg)
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key, string(m), nil); err != nil {
			return err
		}
		_, _, err := tx.Set("msgid:"+msg.Id, key, nil)
		return err
	})
}

func (p *BuntDBPersist) History(_ context.Context, roomId string, limit int, before time.Time) ([]*types.ChatMessage, error) {
	msgs := make([]*types.ChatMessage, 0)
	prefix := roomPrefix(roomId)
	// keys created at exactly "before" sort after the pivot and are skipped
	pivot := fmt.Sprintf("%s%020d", prefix, beforeOrNow(before).UnixNano())
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.DescendLessOrEqual("", pivot, func(key, value string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			msg := &types.ChatMessage{}
			if err := json.Unmarshal([]byte(value), msg); err != nil {
				decodeErr = err
				return false
			}
			msgs = append(msgs, msg)
			return limit <= 0 || len(msgs) < limit
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (p *BuntDBPersist) GetMessage(_ context.Context, messageId string) (*types.ChatMessage, error) {
	var msg *types.ChatMessage
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		_, msg, err = getMessage(tx, messageId)
		return err
	})
	return msg, err
}

func getMessage(tx *buntdb.Tx, messageId string) (string, *types.ChatMessage, error) {
	key, err := tx.Get("msgid:" + messageId)
	if err != nil {
		return "", nil, buntErr(err)
	}
	value, err := tx.Get(key)
	if err != nil {
		return "", nil, buntErr(err)
	}
	msg := &types.ChatMessage{}
	if err := json.Unmarshal([]byte(value), msg); err != nil {
		return "", nil, err
	}
	if msg.Reactions == nil {
		msg.Reactions = types.Reactions{}
	}
	return key, msg, nil
}

func (p *BuntDBPersist) updateReactions(messageId string, update func(types.Reactions) bool) (*types.ChatMessage, error) {
	var msg *types.ChatMessage
	err := p.db.Update(func(tx *buntdb.Tx) error {
		key, m, err := getMessage(tx, messageId)
		if err != nil {
			return err
		}
		msg = m
		if !update(msg.Reactions) {
			return nil
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(value), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *BuntDBPersist) AddReaction(_ context.Context, messageId, userId, emoji string) (*types.ChatMessage, error) {
	return p.updateReactions(messageId, func(r types.Reactions) bool { return r.Add(emoji, userId) })
}

func (p *BuntDBPersist) RemoveReaction(_ context.Context, messageId, userId, emoji string) (*types.ChatMessage, error) {
	return p.updateReactions(messageId, func(r types.Reactions) bool { return r.Remove(emoji, userId) })
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
