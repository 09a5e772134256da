package ws

import (
	"github.com/nightlife-social/livechat/types"
)

// Broadcast delivers the event to every member connection of the room except exclude. It never blocks on a
// slow connection.
func (h *Hub) Broadcast(roomId, event string, payload interface{}, exclude string) {
	frame, err := types.Encode(event, payload)
	if err != nil {
		h.logger.Error("could not encode event", "event", event, "error", err)
		return
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	h.fanOut(roomId, frame, exclude)
}

func (h *Hub) fanOut(roomId string, frame []byte, exclude string) {
	for _, connId := range h.registry.Connections(roomId) {
		if connId == exclude {
			continue
		}
		if c := h.client(connId); c != nil {
			c.enqueue(frame)
		}
	}
}

// broadcastPresence sends online_users and user_count. The snapshot is taken under sendMu, so the last
// presence event a connection receives always reflects the latest membership.
func (h *Hub) broadcastPresence(roomId string) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	users := h.registry.Members(roomId)
	online, err := types.Encode(types.EventOnlineUsers, types.OnlineUsers{RoomId: roomId, Users: users})
	if err != nil {
		h.logger.Error("could not encode presence", "room", roomId, "error", err)
		return
	}
	count, err := types.Encode(types.EventUserCount, types.UserCount{RoomId: roomId, Count: len(users)})
	if err != nil {
		h.logger.Error("could not encode user count", "room", roomId, "error", err)
		return
	}
	h.fanOut(roomId, online, "")
	h.fanOut(roomId, count, "")
}

// sendTo delivers an event to a single connection.
func (h *Hub) sendTo(c *Client, event string, payload interface{}) {
	frame, err := types.Encode(event, payload)
	if err != nil {
		h.logger.Error("could not encode event", "event", event, "error", err)
		return
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	c.enqueue(frame)
}
