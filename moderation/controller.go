// Package moderation implements room-scoped mute and unmute.
package moderation

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/policy"
	"github.com/nightlife-social/livechat/presence"
	"github.com/nightlife-social/livechat/types"
)

type Broadcaster interface {
	Broadcast(roomId, event string, payload interface{}, exclude string)
}

// UserLookup resolves users that are not currently present, f.e. to mute someone who just left.
type UserLookup interface {
	Lookup(ctx context.Context, userId string) (*types.User, error)
}

// Controller enforces who may mute whom. The actor is always the server-resolved identity of the requesting
// connection.
type Controller struct {
	registry    *presence.Registry
	broadcaster Broadcaster
	policy      *policy.Policy
	users       UserLookup
	logger      hclog.Logger
}

func NewController(registry *presence.Registry, b Broadcaster, p *policy.Policy, users UserLookup, logger hclog.Logger) *Controller {
	return &Controller{
		registry:    registry,
		broadcaster: b,
		policy:      p,
		users:       users,
		logger:      globals.Logger(logger, "moderation"),
	}
}

func (c *Controller) Mute(ctx context.Context, roomId string, actor *types.User, targetId string) error {
	target, err := c.authorize(ctx, roomId, actor, targetId)
	if err != nil {
		return err
	}
	if !c.registry.Mute(roomId, target.Id) {
		return types.NewError(types.CodeNotFound, "room %s is empty", roomId)
	}
	c.logger.Info("user muted", "room", roomId, "user", target.Id, "by", actor.Id)
	c.broadcaster.Broadcast(roomId, types.EventUserMuted, types.UserModerated{RoomId: roomId, UserId: target.Id, By: actor.Id}, "")
	return nil
}

func (c *Controller) Unmute(ctx context.Context, roomId string, actor *types.User, targetId string) error {
	target, err := c.authorize(ctx, roomId, actor, targetId)
	if err != nil {
		return err
	}
	if !c.registry.Unmute(roomId, target.Id) {
		return types.NewError(types.CodeNotFound, "room %s is empty", roomId)
	}
	c.logger.Info("user unmuted", "room", roomId, "user", target.Id, "by", actor.Id)
	c.broadcaster.Broadcast(roomId, types.EventUserUnmuted, types.UserModerated{RoomId: roomId, UserId: target.Id, By: actor.Id}, "")
	return nil
}

func (c *Controller) IsMuted(roomId, userId string) bool {
	return c.registry.IsMuted(roomId, userId)
}

func (c *Controller) authorize(ctx context.Context, roomId string, actor *types.User, targetId string) (*types.User, error) {
	if actor == nil {
		return nil, types.ErrUnauthorized
	}
	if !types.ValidRoomId(roomId) || targetId == "" {
		return nil, types.NewError(types.CodeInvalidInput, "roomId and userId are required")
	}
	if !actor.Role.CanModerate() {
		return nil, types.NewError(types.CodeForbidden, "only DJs and admins can moderate")
	}
	if !c.registry.IsUserPresent(roomId, actor.Id) {
		return nil, types.NewError(types.CodeNotFound, "you are not in room %s", roomId)
	}
	if targetId == actor.Id {
		return nil, types.NewError(types.CodeInvalidInput, "you cannot moderate yourself")
	}
	target, err := c.resolveTarget(ctx, roomId, targetId)
	if err != nil {
		return nil, err
	}
	allowed, err := c.policy.Allowed(*actor, *target, roomId)
	if err != nil {
		c.logger.Error("could not evaluate moderation policy", "policy", c.policy.String(), "error", err)
		return nil, types.WrapError(types.CodeForbidden, err, "moderation policy failed")
	}
	if !allowed {
		return nil, types.NewError(types.CodeForbidden, "you cannot moderate %s", target.Name)
	}
	return target, nil
}

func (c *Controller) resolveTarget(ctx context.Context, roomId, targetId string) (*types.User, error) {
	if u, ok := c.registry.UserInRoom(roomId, targetId); ok {
		return &u, nil
	}
	if c.users != nil {
		u, err := c.users.Lookup(ctx, targetId)
		if err == nil && u != nil {
			return u, nil
		}
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			c.logger.Warn("could not look up moderation target", "user", targetId, "error", err)
		}
	}
	return nil, types.NewError(types.CodeNotFound, "unknown user %s", targetId)
}
