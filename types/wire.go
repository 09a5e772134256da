package types

import (
	"encoding/json"
	"time"
)

// Client → server events.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventTypingStart    = "typing_start"
	EventTypingEnd      = "typing_end"
	EventModMute        = "mod_mute"
	EventModUnmute      = "mod_unmute"
	EventHeartbeat      = "heartbeat"
	EventAnnounce       = "announce"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
)

// Server → client events.
const (
	EventConnected         = "connected"
	EventAck               = "ack"
	EventError             = "error"
	EventRoomJoined        = "room_joined"
	EventOnlineUsers       = "online_users"
	EventUserCount         = "user_count"
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserMuted         = "user_muted"
	EventUserUnmuted       = "user_unmuted"
	EventReactionsUpdated  = "reactions_updated"
)

// WebsocketMessage is what is actually sent via the websocket connection, in both directions. Id is set by
// clients that want an ack for the request.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Id    string          `json:"id,omitempty"`
}

// Encode builds a frame for event with payload marshalled as data.
func Encode(event string, payload interface{}) ([]byte, error) {
	m := WebsocketMessage{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Data = data
	}
	return json.Marshal(m)
}

// Incoming payloads. Role and name fields sent by clients are display hints and are ignored by the server.

type RoomRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
}

type SendMessageRequest struct {
	RoomId  string  `json:"roomId" mapstructure:"roomId"`
	Message string  `json:"message" mapstructure:"message"`
	Format  *Format `json:"format,omitempty" mapstructure:"format"`
}

type TypingRequest struct {
	RoomId   string `json:"roomId" mapstructure:"roomId"`
	UserName string `json:"userName,omitempty" mapstructure:"userName"`
	UserRole string `json:"userRole,omitempty" mapstructure:"userRole"`
}

type ModerationRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
	UserId string `json:"userId" mapstructure:"userId"`
}

type ReactionRequest struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
	Emoji     string `json:"emoji" mapstructure:"emoji"`
}

// Outgoing payloads.

type ReconnectInfo struct {
	Attempts int           `json:"attempts"`
	MinDelay time.Duration `json:"minDelay"`
	MaxDelay time.Duration `json:"maxDelay"`
}

type Connected struct {
	ConnectionId  string        `json:"connectionId"`
	Authenticated bool          `json:"authenticated"`
	User          *User         `json:"user,omitempty"`
	Reconnect     ReconnectInfo `json:"reconnect"`
}

type Ack struct {
	Id    string          `json:"id"`
	Ok    bool            `json:"ok"`
	Error *ErrorPayload   `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type RoomJoined struct {
	RoomId      string `json:"roomId"`
	MemberCount int    `json:"memberCount"`
}

type OnlineUsers struct {
	RoomId string  `json:"roomId"`
	Users  []*User `json:"users"`
}

type UserCount struct {
	RoomId string `json:"roomId"`
	Count  int    `json:"count"`
}

type UserTyping struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole Role   `json:"userRole"`
}

type UserStoppedTyping struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

type UserModerated struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
	By     string `json:"by"`
}

type ReactionsUpdated struct {
	MessageId string    `json:"messageId"`
	RoomId    string    `json:"roomId"`
	Reactions Reactions `json:"reactions"`
}

type Heartbeat struct {
	ServerTime time.Time `json:"serverTime"`
}
