// Package presence tracks which connection is in which room and who is muted there. It is pure in-memory
// state and the source of truth for "who is online".
package presence

import (
	"sort"
	"sync"

	"github.com/nightlife-social/livechat/types"
)

// Member is one connection's seat in a room.
type Member struct {
	ConnId string
	User   types.User
}

// roomState exists only while at least one connection is a member. The mute set lives and dies with it.
type roomState struct {
	members map[string]Member // connId -> member
	muted   map[string]struct{}
}

// Registry maps rooms to member connections and connections to rooms. All methods are safe for concurrent use
// and never call out while holding the lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
	conns map[string]map[string]struct{} // connId -> roomIds
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*roomState),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room, creating the room if needed. It returns false if the connection was
// already a member, in which case nothing changes.
func (r *Registry) Join(roomId, connId string, user types.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomId]
	if !ok {
		rs = &roomState{members: make(map[string]Member), muted: make(map[string]struct{})}
		r.rooms[roomId] = rs
	}
	if _, ok := rs.members[connId]; ok {
		return false
	}
	rs.members[connId] = Member{ConnId: connId, User: user}
	if r.conns[connId] == nil {
		r.conns[connId] = make(map[string]struct{})
	}
	r.conns[connId][roomId] = struct{}{}
	return true
}

// LeaveResult describes what a removal did to one room.
type LeaveResult struct {
	RoomId string
	UserId string
	// UserStillPresent is true if the user has another connection in the room.
	UserStillPresent bool
	// RoomEmpty is true if the room was removed together with its mute set.
	RoomEmpty bool
}

// Leave removes the connection from the room. ok is false if it was not a member.
func (r *Registry) Leave(roomId, connId string) (res LeaveResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(roomId, connId)
}

// LeaveAll removes the connection from every room it is in, used on disconnect.
func (r *Registry) LeaveAll(connId string) []LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.conns[connId]))
	for roomId := range r.conns[connId] {
		rooms = append(rooms, roomId)
	}
	sort.Strings(rooms)
	results := make([]LeaveResult, 0, len(rooms))
	for _, roomId := range rooms {
		if res, ok := r.leave(roomId, connId); ok {
			results = append(results, res)
		}
	}
	delete(r.conns, connId)
	return results
}

func (r *Registry) leave(roomId, connId string) (LeaveResult, bool) {
	rs, ok := r.rooms[roomId]
	if !ok {
		return LeaveResult{}, false
	}
	m, ok := rs.members[connId]
	if !ok {
		return LeaveResult{}, false
	}
	delete(rs.members, connId)
	if set := r.conns[connId]; set != nil {
		delete(set, roomId)
		if len(set) == 0 {
			delete(r.conns, connId)
		}
	}
	res := LeaveResult{RoomId: roomId, UserId: m.User.Id}
	if len(rs.members) == 0 {
		delete(r.rooms, roomId)
		res.RoomEmpty = true
		return res, true
	}
	res.UserStillPresent = rs.hasUser(m.User.Id)
	return res, true
}

func (rs *roomState) hasUser(userId string) bool {
	for _, m := range rs.members {
		if m.User.Id == userId {
			return true
		}
	}
	return false
}

// Members returns the online users of the room, one entry per user, ordered by name then id.
func (r *Registry) Members(roomId string) []*types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*types.User, 0)
	rs, ok := r.rooms[roomId]
	if !ok {
		return users
	}
	seen := make(map[string]struct{}, len(rs.members))
	for _, m := range rs.members {
		if _, ok := seen[m.User.Id]; ok {
			continue
		}
		seen[m.User.Id] = struct{}{}
		u := m.User
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].Id < users[j].Id
	})
	return users
}

// MemberCount is the number of distinct users in the room.
func (r *Registry) MemberCount(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[roomId]
	if !ok {
		return 0
	}
	seen := make(map[string]struct{}, len(rs.members))
	for _, m := range rs.members {
		seen[m.User.Id] = struct{}{}
	}
	return len(seen)
}

// ConnectionCount is the raw number of member connections.
func (r *Registry) ConnectionCount(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rs, ok := r.rooms[roomId]; ok {
		return len(rs.members)
	}
	return 0
}

// Connections returns the ids of the member connections, the fan-out set of the room.
func (r *Registry) Connections(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[roomId]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rs.members))
	for connId := range rs.members {
		ids = append(ids, connId)
	}
	return ids
}

func (r *Registry) IsMember(roomId, connId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connId][roomId]
	return ok
}

func (r *Registry) IsUserPresent(roomId, userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[roomId]
	return ok && rs.hasUser(userId)
}

// UserInRoom returns the identity a present user joined with.
func (r *Registry) UserInRoom(roomId, userId string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rs, ok := r.rooms[roomId]; ok {
		for _, m := range rs.members {
			if m.User.Id == userId {
				return m.User, true
			}
		}
	}
	return types.User{}, false
}

// Rooms returns the rooms the connection is in, sorted.
func (r *Registry) Rooms(connId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.conns[connId]))
	for roomId := range r.conns[connId] {
		rooms = append(rooms, roomId)
	}
	sort.Strings(rooms)
	return rooms
}

// Mute marks the user as muted in an existing room. It returns false if the room does not exist.
func (r *Registry) Mute(roomId, userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomId]
	if !ok {
		return false
	}
	rs.muted[userId] = struct{}{}
	return true
}

func (r *Registry) Unmute(roomId, userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomId]
	if !ok {
		return false
	}
	delete(rs.muted, userId)
	return true
}

func (r *Registry) IsMuted(roomId, userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[roomId]
	if !ok {
		return false
	}
	_, muted := rs.muted[userId]
	return muted
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Stats counts live rooms and connections that are in at least one room.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Rooms: len(r.rooms), Connections: len(r.conns)}
}
