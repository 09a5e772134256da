// Package persistence is the durable side of the chat: messages with their reactions, and user profiles.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
)

// ErrNotFound is returned for unknown messages and users. It matches types.ErrNotFound.
var ErrNotFound = &types.ChatError{Code: types.CodeNotFound, Message: "record not found"}

// MessageStore persists chat messages. History is newest-first; messages are strictly older than before, a
// zero before means "now".
type MessageStore interface {
	// CreateMessage assigns the message id and the canonical timestamp.
	CreateMessage(ctx context.Context, msg *types.ChatMessage) error
	History(ctx context.Context, roomId string, limit int, before time.Time) ([]*types.ChatMessage, error)
	GetMessage(ctx context.Context, messageId string) (*types.ChatMessage, error)
	// AddReaction and RemoveReaction are idempotent and return the message with its full reaction map.
	AddReaction(ctx context.Context, messageId, userId, emoji string) (*types.ChatMessage, error)
	RemoveReaction(ctx context.Context, messageId, userId, emoji string) (*types.ChatMessage, error)
}

type UserStore interface {
	StoreUser(ctx context.Context, user types.User) error
	GetUser(ctx context.Context, userId string) (*types.User, error)
	GetUsers(ctx context.Context) ([]*types.User, error)
	DeleteUser(ctx context.Context, userId string) error
}

type Persister interface {
	MessageStore
	UserStore
	Close() error
}

// NewPersister opens the backend selected by cfg.Type.
func NewPersister(cfg config.PersistenceConfig) (Persister, error) {
	switch cfg.Type {
	case config.PersistenceSQLite, config.PersistencePostgres:
		p, err := NewGormPersister(cfg)
		if err != nil {
			return nil, fmt.Errorf("could not open %s store: %w", cfg.Type, err)
		}
		return p, nil
	case config.PersistenceBuntDB:
		p, err := NewBuntPersister(cfg)
		if err != nil {
			return nil, fmt.Errorf("could not open buntdb store: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
}

// stamp sets the fields owned by the store.
func stamp(msg *types.ChatMessage) {
	msg.Id = uuid.NewString()
	msg.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if msg.Kind == "" {
		msg.Kind = types.KindText
	}
	msg.Reactions = types.Reactions{}
}

func beforeOrNow(before time.Time) time.Time {
	if before.IsZero() {
		// one tick ahead so that a message stamped in this very microsecond is included
		return time.Now().UTC().Add(time.Microsecond)
	}
	return before.UTC()
}
