package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nightlife-social/livechat/auth"
	"github.com/nightlife-social/livechat/types"
)

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.transport.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) transportAllowed(transport string) bool {
	if transport == "" {
		return true
	}
	for _, t := range h.transport.AllowedTransports {
		// polling fallbacks are not implemented, only websocket can be served
		if t == transport && t == "websocket" {
			return true
		}
	}
	return false
}

// ServeHTTP performs the handshake. A failed credential resolution leaves the connection open but anonymous;
// a malformed handshake is rejected before the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.transportAllowed(r.URL.Query().Get("transport")) {
		http.Error(w, "transport not allowed", http.StatusBadRequest)
		return
	}
	select {
	case <-h.ctx.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	var user *types.User
	credential, provider := auth.CredentialFromRequest(r)
	if credential != "" && h.directory != nil {
		u, err := h.directory.Resolve(r.Context(), credential, provider)
		if err != nil {
			h.logger.Debug("could not resolve credential, connection stays anonymous", "provider", provider, "error", err)
		} else {
			user = u
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("could not upgrade connection", "error", err)
		return
	}
	c := newClient(h, uuid.NewString(), conn, user)
	h.register(c)
	go c.WriteLoop()
	go c.ReadLoop()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	c.logger.Info("client connected", "authenticated", c.user != nil)

	rc := h.cfg.ReconnectConfig
	h.sendTo(c, types.EventConnected, types.Connected{
		ConnectionId:  c.id,
		Authenticated: c.user != nil,
		User:          c.user,
		Reconnect: types.ReconnectInfo{
			Attempts: rc.Attempts,
			MinDelay: rc.MinDelay,
			MaxDelay: rc.MaxDelay,
		},
	})
}

func (h *Hub) registered(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c.id]
	return ok
}

// unregister removes the client from every room. It is idempotent and runs for every disconnect, clean or not.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	results := h.registry.LeaveAll(c.id)
	for _, res := range results {
		h.afterLeave(c, res.RoomId, res.UserStillPresent, res.RoomEmpty)
	}
	c.logger.Info("client disconnected", "rooms", len(results))
}

// join is idempotent: re-joining only repeats the room_joined acknowledgment.
func (h *Hub) join(c *Client, roomId string) (*types.RoomJoined, error) {
	if c.user == nil {
		return nil, types.ErrUnauthorized
	}
	if !types.ValidRoomId(roomId) {
		return nil, types.NewError(types.CodeInvalidInput, "invalid room id")
	}
	added := h.registry.Join(roomId, c.id, *c.user)
	if !h.registered(c) {
		// unregister already ran its LeaveAll or is about to; either way the entry must not outlive the client
		h.registry.Leave(roomId, c.id)
		return nil, types.NewError(types.CodeNotFound, "connection is closing")
	}
	joined := &types.RoomJoined{RoomId: roomId, MemberCount: h.registry.MemberCount(roomId)}
	h.sendTo(c, types.EventRoomJoined, joined)
	if added {
		c.logger.Debug("joined room", "room", roomId)
		h.broadcastPresence(roomId)
	}
	return joined, nil
}

// leave of a room the connection is not in is a no-op.
func (h *Hub) leave(c *Client, roomId string) error {
	if c.user == nil {
		return types.ErrUnauthorized
	}
	if !types.ValidRoomId(roomId) {
		return types.NewError(types.CodeInvalidInput, "invalid room id")
	}
	res, ok := h.registry.Leave(roomId, c.id)
	if !ok {
		return nil
	}
	c.logger.Debug("left room", "room", roomId)
	h.afterLeave(c, roomId, res.UserStillPresent, res.RoomEmpty)
	return nil
}

func (h *Hub) afterLeave(c *Client, roomId string, userStillPresent, roomEmpty bool) {
	if c.user != nil && !userStillPresent {
		h.typing.Stop(roomId, c.user.Id, c.id)
	}
	if !roomEmpty {
		h.broadcastPresence(roomId)
	}
}
