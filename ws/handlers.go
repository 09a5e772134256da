package ws

import (
	"encoding/json"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nightlife-social/livechat/types"
)

// decode maps the event data onto out. Scalars are converted where sensible, f.e. a numeric user id.
func decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return types.NewError(types.CodeInvalidInput, "missing payload")
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "payload must be an object")
	}
	if err := mapstructure.WeakDecode(m, out); err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "malformed payload")
	}
	return nil
}

// decodeRoomId accepts both a bare room id string and an object with a roomId.
func decodeRoomId(data json.RawMessage) (string, error) {
	var roomId string
	if err := json.Unmarshal(data, &roomId); err == nil {
		return roomId, nil
	}
	req := types.RoomRequest{}
	if err := decode(data, &req); err != nil {
		return "", err
	}
	return req.RoomId, nil
}

// dispatch handles one client event to completion. Failures are answered with an error event to this
// connection only; a request carrying an id additionally gets exactly one ack.
func (h *Hub) dispatch(c *Client, m types.WebsocketMessage) {
	ctx := h.ctx
	var (
		data interface{}
		err  error
	)
	switch m.Event {
	case types.EventJoinRoom:
		var roomId string
		if roomId, err = decodeRoomId(m.Data); err == nil {
			data, err = h.join(c, roomId)
		}

	case types.EventLeaveRoom:
		var roomId string
		if roomId, err = decodeRoomId(m.Data); err == nil {
			err = h.leave(c, roomId)
		}

	case types.EventSendMessage:
		req := types.SendMessageRequest{}
		if err = decode(m.Data, &req); err == nil {
			data, err = h.pipeline.Send(ctx, c.id, c.user, req)
		}

	case types.EventAnnounce:
		req := types.SendMessageRequest{}
		if err = decode(m.Data, &req); err == nil {
			data, err = h.pipeline.Announce(ctx, c.user, req)
		}

	case types.EventTypingStart:
		// userName and userRole in the payload are display hints only and are ignored
		req := types.TypingRequest{}
		if err = decode(m.Data, &req); err == nil {
			err = h.typingStart(c, req.RoomId)
		}

	case types.EventTypingEnd:
		var roomId string
		if roomId, err = decodeRoomId(m.Data); err == nil {
			err = h.typingEnd(c, roomId)
		}

	case types.EventModMute, types.EventModUnmute:
		req := types.ModerationRequest{}
		if err = decode(m.Data, &req); err == nil {
			if m.Event == types.EventModMute {
				err = h.moderation.Mute(ctx, req.RoomId, c.user, req.UserId)
			} else {
				err = h.moderation.Unmute(ctx, req.RoomId, c.user, req.UserId)
			}
		}

	case types.EventAddReaction, types.EventRemoveReaction:
		req := types.ReactionRequest{}
		if err = decode(m.Data, &req); err == nil {
			if m.Event == types.EventAddReaction {
				data, err = h.pipeline.AddReaction(ctx, c.id, c.user, req)
			} else {
				data, err = h.pipeline.RemoveReaction(ctx, c.id, c.user, req)
			}
		}

	case types.EventHeartbeat:
		beat := types.Heartbeat{ServerTime: time.Now().UTC()}
		if m.Id == "" {
			h.sendTo(c, types.EventHeartbeat, beat)
			return
		}
		data = beat

	default:
		err = types.NewError(types.CodeInvalidInput, "unknown event %q", m.Event)
	}
	h.reply(c, m, data, err)
}

func (h *Hub) reply(c *Client, m types.WebsocketMessage, data interface{}, err error) {
	if err != nil {
		ce := types.AsChatError(err)
		switch ce.Code {
		case types.CodeRateLimited, types.CodeMuted:
			c.logger.Debug("request rejected", "event", m.Event, "code", ce.Code)
		case types.CodePersistenceFailed:
			c.logger.Error("request failed", "event", m.Event, "error", err)
		default:
			c.logger.Debug("request rejected", "event", m.Event, "code", ce.Code, "error", err)
		}
		payload := &types.ErrorPayload{Code: ce.Code, Message: ce.Message}
		h.sendTo(c, types.EventError, payload)
		if m.Id != "" {
			h.sendTo(c, types.EventAck, types.Ack{Id: m.Id, Ok: false, Error: payload})
		}
		return
	}
	if m.Id == "" {
		return
	}
	ack := types.Ack{Id: m.Id, Ok: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("could not encode ack data", "event", m.Event, "error", err)
		} else {
			ack.Data = raw
		}
	}
	h.sendTo(c, types.EventAck, ack)
}

func (h *Hub) typingStart(c *Client, roomId string) error {
	if c.user == nil {
		return types.ErrUnauthorized
	}
	if !types.ValidRoomId(roomId) {
		return types.NewError(types.CodeInvalidInput, "invalid room id")
	}
	if !h.registry.IsMember(roomId, c.id) {
		return types.NewError(types.CodeNotFound, "not in room %s", roomId)
	}
	h.typing.Start(roomId, c.id, *c.user)
	return nil
}

func (h *Hub) typingEnd(c *Client, roomId string) error {
	if c.user == nil {
		return types.ErrUnauthorized
	}
	if !types.ValidRoomId(roomId) {
		return types.NewError(types.CodeInvalidInput, "invalid room id")
	}
	h.typing.Stop(roomId, c.user.Id, c.id)
	return nil
}
