// Package pipeline validates, rate-limits, persists and republishes chat messages and reactions.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/ratelimit"
	"github.com/nightlife-social/livechat/types"
)

type Broadcaster interface {
	Broadcast(roomId, event string, payload interface{}, exclude string)
}

// Membership answers the presence questions the pipeline gates on.
type Membership interface {
	IsMember(roomId, connId string) bool
	IsMuted(roomId, userId string) bool
}

type TypingStopper interface {
	Stop(roomId, userId, exclude string) bool
}

type Pipeline struct {
	members     Membership
	limiter     ratelimit.Limiter
	policies    ratelimit.Policies
	store       persistence.MessageStore
	broadcaster Broadcaster
	typing      TypingStopper
	history     config.HistoryConfig
	logger      hclog.Logger
}

type Options struct {
	Members     Membership
	Limiter     ratelimit.Limiter
	Policies    ratelimit.Policies
	Store       persistence.MessageStore
	Broadcaster Broadcaster
	Typing      TypingStopper
	History     config.HistoryConfig
	Logger      hclog.Logger
}

func New(opts Options) *Pipeline {
	if opts.History.DefaultLimit <= 0 {
		opts.History.DefaultLimit = 50
	}
	if opts.History.MaxLimit < opts.History.DefaultLimit {
		opts.History.MaxLimit = opts.History.DefaultLimit
	}
	return &Pipeline{
		members:     opts.Members,
		limiter:     opts.Limiter,
		policies:    opts.Policies,
		store:       opts.Store,
		broadcaster: opts.Broadcaster,
		typing:      opts.Typing,
		history:     opts.History,
		logger:      globals.Logger(opts.Logger, "pipeline"),
	}
}

func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", types.NewError(types.CodeInvalidInput, "message is empty")
	}
	if utf8.RuneCountInString(body) > types.MaxMessageLength {
		return "", types.NewError(types.CodeInvalidInput, "message is longer than %d characters", types.MaxMessageLength)
	}
	return body, nil
}

func validateRoom(roomId string) error {
	if !types.ValidRoomId(roomId) {
		return types.NewError(types.CodeInvalidInput, "invalid room id")
	}
	return nil
}

// Send runs a chat message through every gate and, once it is durable, publishes it to the room. Rejections
// before persistence leave no trace: no stored message, no broadcast, no consumed quota.
func (p *Pipeline) Send(ctx context.Context, connId string, user *types.User, req types.SendMessageRequest) (*types.ChatMessage, error) {
	if user == nil {
		return nil, types.ErrUnauthorized
	}
	body, err := validateBody(req.Message)
	if err != nil {
		return nil, err
	}
	if err := validateRoom(req.RoomId); err != nil {
		return nil, err
	}
	if !p.members.IsMember(req.RoomId, connId) {
		return nil, types.NewError(types.CodeNotFound, "join room %s before sending", req.RoomId)
	}

	reservation, err := p.reserve(ctx, user)
	if err != nil {
		return nil, err
	}
	if p.members.IsMuted(req.RoomId, user.Id) {
		reservation.Cancel()
		p.logger.Debug("send rejected", "room", req.RoomId, "user", user.Id, "reason", types.CodeMuted)
		return nil, types.ErrMuted
	}

	msg := &types.ChatMessage{
		RoomId:     req.RoomId,
		SenderId:   user.Id,
		SenderName: user.Name,
		SenderRole: user.Role,
		Message:    body,
		Kind:       types.KindText,
	}
	if !req.Format.IsZero() {
		f := *req.Format
		msg.Format = &f
	}
	if err := p.persist(ctx, msg); err != nil {
		return nil, err
	}
	p.broadcaster.Broadcast(msg.RoomId, types.EventNewMessage, msg, "")
	p.typing.Stop(msg.RoomId, user.Id, connId)
	return msg, nil
}

// Announce persists and publishes a SYSTEM message. Only admins may announce, to any valid room.
func (p *Pipeline) Announce(ctx context.Context, user *types.User, req types.SendMessageRequest) (*types.ChatMessage, error) {
	if user == nil {
		return nil, types.ErrUnauthorized
	}
	if user.Role != types.RoleAdmin {
		return nil, types.NewError(types.CodeForbidden, "only admins can announce")
	}
	body, err := validateBody(req.Message)
	if err != nil {
		return nil, err
	}
	if err := validateRoom(req.RoomId); err != nil {
		return nil, err
	}
	msg := &types.ChatMessage{
		RoomId:     req.RoomId,
		SenderId:   user.Id,
		SenderName: user.Name,
		SenderRole: user.Role,
		Message:    body,
		Kind:       types.KindSystem,
	}
	if err := p.persist(ctx, msg); err != nil {
		return nil, err
	}
	p.broadcaster.Broadcast(msg.RoomId, types.EventNewMessage, msg, "")
	return msg, nil
}

func (p *Pipeline) reserve(ctx context.Context, user *types.User) (*ratelimit.Reservation, error) {
	reservation, err := p.limiter.Reserve(ctx, user.Id, p.policies.ForRole(user.Role))
	if err != nil {
		// a broken shared limiter must not take the chat down
		p.logger.Warn("rate limiter unavailable, admitting send", "user", user.Id, "error", err)
		return &ratelimit.Reservation{Allowed: true}, nil
	}
	if !reservation.Allowed {
		p.logger.Debug("send rejected", "user", user.Id, "reason", types.CodeRateLimited, "retry_after", reservation.RetryAfter)
		return nil, types.NewError(types.CodeRateLimited, "too many messages, try again in %s",
			reservation.RetryAfter.Round(100*time.Millisecond))
	}
	return reservation, nil
}

func (p *Pipeline) persist(ctx context.Context, msg *types.ChatMessage) error {
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		p.logger.Error("could not store message", "room", msg.RoomId, "user", msg.SenderId, "error", err)
		return types.WrapError(types.CodePersistenceFailed, err, types.ErrPersistenceFailed.Message)
	}
	return nil
}

// AddReaction records the reaction and publishes the message's full reaction map. A realtime caller (non-empty
// connId) must be in the message's room; the HTTP api passes an empty connId.
func (p *Pipeline) AddReaction(ctx context.Context, connId string, user *types.User, req types.ReactionRequest) (*types.ChatMessage, error) {
	return p.react(ctx, connId, user, req, p.store.AddReaction)
}

func (p *Pipeline) RemoveReaction(ctx context.Context, connId string, user *types.User, req types.ReactionRequest) (*types.ChatMessage, error) {
	return p.react(ctx, connId, user, req, p.store.RemoveReaction)
}

func (p *Pipeline) react(ctx context.Context, connId string, user *types.User, req types.ReactionRequest,
	op func(ctx context.Context, messageId, userId, emoji string) (*types.ChatMessage, error)) (*types.ChatMessage, error) {
	if user == nil {
		return nil, types.ErrUnauthorized
	}
	if req.MessageId == "" || !types.ValidEmoji(req.Emoji) {
		return nil, types.NewError(types.CodeInvalidInput, "messageId and a valid emoji are required")
	}
	if connId != "" {
		target, err := p.store.GetMessage(ctx, req.MessageId)
		if err != nil {
			return nil, p.reactionError(req.MessageId, user, err)
		}
		if !p.members.IsMember(target.RoomId, connId) {
			return nil, types.NewError(types.CodeNotFound, "join room %s before reacting", target.RoomId)
		}
	}
	msg, err := op(ctx, req.MessageId, user.Id, req.Emoji)
	if err != nil {
		return nil, p.reactionError(req.MessageId, user, err)
	}
	p.broadcaster.Broadcast(msg.RoomId, types.EventReactionsUpdated, types.ReactionsUpdated{
		MessageId: msg.Id,
		RoomId:    msg.RoomId,
		Reactions: msg.Reactions,
	}, "")
	return msg, nil
}

func (p *Pipeline) reactionError(messageId string, user *types.User, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return types.NewError(types.CodeNotFound, "unknown message %s", messageId)
	}
	p.logger.Error("could not update reactions", "message", messageId, "user", user.Id, "error", err)
	return types.WrapError(types.CodePersistenceFailed, err, "reaction could not be saved")
}

// History returns up to limit messages older than before, oldest first. A non-positive limit selects the
// default page size, larger ones are capped.
func (p *Pipeline) History(ctx context.Context, roomId string, limit int, before time.Time) ([]*types.ChatMessage, error) {
	if err := validateRoom(roomId); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = p.history.DefaultLimit
	}
	if limit > p.history.MaxLimit {
		limit = p.history.MaxLimit
	}
	msgs, err := p.store.History(ctx, roomId, limit, before)
	if err != nil {
		p.logger.Error("could not load history", "room", roomId, "error", err)
		return nil, types.WrapError(types.CodePersistenceFailed, err, "history is unavailable")
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
