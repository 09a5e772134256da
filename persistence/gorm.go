package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type messageRow struct {
	Id         string `gorm:"primaryKey"`
	RoomId     string `gorm:"index:idx_messages_room_created,priority:1;not null"`
	SenderId   string `gorm:"not null"`
	SenderName string
	SenderRole string
	Message    string
	Format     datatypes.JSON
	Kind       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

func (messageRow) TableName() string {
	return "messages"
}

// reactionRow is unique per (message, emoji, user).
type reactionRow struct {
	MessageId string `gorm:"primaryKey"`
	Emoji     string `gorm:"primaryKey"`
	UserId    string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (reactionRow) TableName() string {
	return "reactions"
}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg config.PersistenceConfig) (*GormPersist, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg config.PersistenceConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("persistence.dsn is required for %s", cfg.Type)
	}
	var dial gorm.Dialector
	switch cfg.Type {
	case config.PersistencePostgres:
		dial = postgres.Open(cfg.DSN)
	case config.PersistenceSQLite:
		dial = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if cfg.Type == config.PersistenceSQLite && strings.Contains(cfg.DSN, ":memory:") {
		// every connection would get its own empty in-memory database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&types.User{}, &messageRow{}, &reactionRow{}); err != nil {
		return nil, err
	}
	return db, nil
}

func gormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(ctx context.Context, user types.User) error {
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "role", "updated_at"}),
	}).Create(&user).Error
}

func (p *GormPersist) GetUser(ctx context.Context, userId string) (*types.User, error) {
	user := &types.User{}
	if err := p.db.WithContext(ctx).First(user, "id = ?", userId).Error; err != nil {
		return nil, gormErr(err)
	}
	return user, nil
}

func (p *GormPersist) GetUsers(ctx context.Context) ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.WithContext(ctx).Order("id").Find(&users).Error
	return users, err
}

func (p *GormPersist) DeleteUser(ctx context.Context, userId string) error {
	res := p.db.WithContext(ctx).Delete(&types.User{}, "id = ?", userId)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) CreateMessage(ctx context.Context, msg *types.ChatMessage) error {
	stamp(msg)
	row, err := toRow(msg)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(row).Error
}

func (p *GormPersist) History(ctx context.Context, roomId string, limit int, before time.Time) ([]*types.ChatMessage, error) {
	rows := make([]*messageRow, 0)
	err := p.db.WithContext(ctx).
		Where("room_id = ? AND created_at < ?", roomId, beforeOrNow(before)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return p.withReactions(p.db.WithContext(ctx), rows)
}

func (p *GormPersist) GetMessage(ctx context.Context, messageId string) (*types.ChatMessage, error) {
	return p.getMessage(p.db.WithContext(ctx), messageId)
}

func (p *GormPersist) AddReaction(ctx context.Context, messageId, userId, emoji string) (*types.ChatMessage, error) {
	var msg *types.ChatMessage
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&messageRow{}, "id = ?", messageId).Error; err != nil {
			return gormErr(err)
		}
		r := reactionRow{MessageId: messageId, Emoji: emoji, UserId: userId, CreatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error; err != nil {
			return err
		}
		var err error
		msg, err = p.getMessage(tx, messageId)
		return err
	})
	return msg, err
}

func (p *GormPersist) RemoveReaction(ctx context.Context, messageId, userId, emoji string) (*types.ChatMessage, error) {
	var msg *types.ChatMessage
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&messageRow{}, "id = ?", messageId).Error; err != nil {
			return gormErr(err)
		}
		err := tx.Where("message_id = ? AND emoji = ? AND user_id = ?", messageId, emoji, userId).Delete(&reactionRow{}).Error
		if err != nil {
			return err
		}
		msg, err = p.getMessage(tx, messageId)
		return err
	})
	return msg, err
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *GormPersist) getMessage(db *gorm.DB, messageId string) (*types.ChatMessage, error) {
	row := &messageRow{}
	if err := db.First(row, "id = ?", messageId).Error; err != nil {
		return nil, gormErr(err)
	}
	msgs, err := p.withReactions(db, []*messageRow{row})
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

func (p *GormPersist) withReactions(db *gorm.DB, rows []*messageRow) ([]*types.ChatMessage, error) {
	msgs := make([]*types.ChatMessage, 0, len(rows))
	if len(rows) == 0 {
		return msgs, nil
	}
	ids := make([]string, len(rows))
	byId := make(map[string]*types.ChatMessage, len(rows))
	for i, row := range rows {
		msg, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		ids[i] = row.Id
		byId[row.Id] = msg
		msgs = append(msgs, msg)
	}
	reactions := make([]*reactionRow, 0)
	if err := db.Where("message_id IN ?", ids).Find(&reactions).Error; err != nil {
		return nil, err
	}
	for _, r := range reactions {
		byId[r.MessageId].Reactions.Add(r.Emoji, r.UserId)
	}
	return msgs, nil
}

func toRow(msg *types.ChatMessage) (*messageRow, error) {
	row := &messageRow{
		Id:         msg.Id,
		RoomId:     msg.RoomId,
		SenderId:   msg.SenderId,
		SenderName: msg.SenderName,
		SenderRole: string(msg.SenderRole),
		Message:    msg.Message,
		Kind:       string(msg.Kind),
		CreatedAt:  msg.CreatedAt,
	}
	if !msg.Format.IsZero() {
		f, err := json.Marshal(msg.Format)
		if err != nil {
			return nil, err
		}
		row.Format = datatypes.JSON(f)
	}
	return row, nil
}

func fromRow(row *messageRow) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{
		Id:         row.Id,
		RoomId:     row.RoomId,
		SenderId:   row.SenderId,
		SenderName: row.SenderName,
		SenderRole: types.Role(row.SenderRole),
		Message:    row.Message,
		Kind:       types.MessageKind(row.Kind),
		CreatedAt:  row.CreatedAt.UTC(),
		Reactions:  types.Reactions{},
	}
	if len(row.Format) > 0 && string(row.Format) != "null" {
		msg.Format = &types.Format{}
		if err := json.Unmarshal(row.Format, msg.Format); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
