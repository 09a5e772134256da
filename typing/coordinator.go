// Package typing keeps the ephemeral "is typing" state per (room, user) and announces its transitions.
package typing

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/types"
)

const DefaultIdleTimeout = 4 * time.Second

// Broadcaster delivers an event to every connection of a room except exclude.
type Broadcaster interface {
	Broadcast(roomId, event string, payload interface{}, exclude string)
}

type key struct {
	roomId string
	userId string
}

type state struct {
	connId string // connection that started typing, excluded from the broadcasts
	gen    uint64
	timer  *time.Timer
}

// Coordinator runs one idle/typing state machine per (room, user). Broadcasts happen under the coordinator's
// lock, so the started/stopped events of one user in one room are always delivered in transition order.
type Coordinator struct {
	mu          sync.Mutex
	states      map[key]*state
	gen         uint64 // last timer generation handed out, unique across states
	idleTimeout time.Duration
	broadcaster Broadcaster
	logger      hclog.Logger
}

func NewCoordinator(b Broadcaster, idleTimeout time.Duration, logger hclog.Logger) *Coordinator {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Coordinator{
		states:      make(map[key]*state),
		idleTimeout: idleTimeout,
		broadcaster: b,
		logger:      globals.Logger(logger, "typing"),
	}
}

// Start handles a typing start signal. Only the idle -> typing transition is broadcast; a repeated start, from
// any connection of the user, just resets the idle timer. It returns true if it broadcast.
func (c *Coordinator) Start(roomId, connId string, user types.User) bool {
	k := key{roomId: roomId, userId: user.Id}
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.states[k]; ok {
		s.timer.Stop()
		c.gen++
		s.gen = c.gen
		s.timer = c.expireAfter(k, s.gen)
		return false
	}
	c.gen++
	c.states[k] = &state{connId: connId, gen: c.gen, timer: c.expireAfter(k, c.gen)}
	c.broadcaster.Broadcast(roomId, types.EventUserTyping, types.UserTyping{
		RoomId:   roomId,
		UserId:   user.Id,
		UserName: user.Name,
		UserRole: user.Role,
	}, connId)
	return true
}

// Stop ends the typing state on an explicit stop, a sent message or a leave. The first stop wins, later ones
// are no-ops. It returns true if it broadcast.
func (c *Coordinator) Stop(roomId, userId, exclude string) bool {
	k := key{roomId: roomId, userId: userId}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[k]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(c.states, k)
	c.broadcastStopped(k, exclude)
	return true
}

func (c *Coordinator) IsTyping(roomId, userId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[key{roomId: roomId, userId: userId}]
	return ok
}

// Close stops all timers without broadcasting.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.states {
		s.timer.Stop()
		delete(c.states, k)
	}
}

func (c *Coordinator) expireAfter(k key, gen uint64) *time.Timer {
	return time.AfterFunc(c.idleTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		s, ok := c.states[k]
		// a timer that lost the race against a reset or stop
		if !ok || s.gen != gen {
			return
		}
		delete(c.states, k)
		c.logger.Trace("typing expired", "room", k.roomId, "user", k.userId)
		c.broadcastStopped(k, s.connId)
	})
}

func (c *Coordinator) broadcastStopped(k key, exclude string) {
	c.broadcaster.Broadcast(k.roomId, types.EventUserStoppedTyping, types.UserStoppedTyping{
		RoomId: k.roomId,
		UserId: k.userId,
	}, exclude)
}
