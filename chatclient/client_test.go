package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer greets every connection with connected and answers each request with handle.
func scriptedServer(t *testing.T, greeting string, handle func(conn *websocket.Conn, m types.WebsocketMessage)) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := types.Encode(greeting, types.Connected{ConnectionId: "c1", Authenticated: true,
			User: &types.User{Id: "alice", Name: "Alice", Role: types.RoleUser}})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
		for {
			m := types.WebsocketMessage{}
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if handle != nil {
				handle(conn, m)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func ack(conn *websocket.Conn, a types.Ack) {
	frame, _ := types.Encode(types.EventAck, a)
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func dial(t *testing.T, url string, timeout time.Duration) *Client {
	c, err := Dial(context.Background(), Options{URL: url, RequestTimeout: timeout, Logger: hclog.NewNullLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialReadsConnected(t *testing.T) {
	c := dial(t, scriptedServer(t, types.EventConnected, nil), time.Second)
	assert.Equal(t, "c1", c.ConnectionId())
	assert.Equal(t, "alice", c.User().Id)
}

func TestDialRejectsUnexpectedGreeting(t *testing.T) {
	_, err := Dial(context.Background(), Options{
		URL:            scriptedServer(t, types.EventHeartbeat, nil),
		RequestTimeout: time.Second,
		Logger:         hclog.NewNullLogger(),
	})
	assert.Error(t, err)
}

func TestRequestTimesOut(t *testing.T) {
	c := dial(t, scriptedServer(t, types.EventConnected, nil), 50*time.Millisecond)
	_, err := c.Request(context.Background(), types.EventHeartbeat, nil)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestRequestResolvesById(t *testing.T) {
	url := scriptedServer(t, types.EventConnected, func(conn *websocket.Conn, m types.WebsocketMessage) {
		// an unrelated ack and an event arrive first
		ack(conn, types.Ack{Id: "other", Ok: true})
		frame, _ := types.Encode(types.EventUserCount, types.UserCount{RoomId: "club-1", Count: 3})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		switch m.Event {
		case types.EventJoinRoom:
			data, _ := json.Marshal(types.RoomJoined{RoomId: "club-1", MemberCount: 3})
			ack(conn, types.Ack{Id: m.Id, Ok: true, Data: data})
		default:
			ack(conn, types.Ack{Id: m.Id, Ok: false, Error: &types.ErrorPayload{Code: types.CodeMuted, Message: "muted"}})
		}
	})
	c := dial(t, url, time.Second)

	joined, err := c.Join(context.Background(), "club-1")
	require.NoError(t, err)
	assert.Equal(t, &types.RoomJoined{RoomId: "club-1", MemberCount: 3}, joined)
	assert.Equal(t, []string{"club-1"}, c.Rooms())

	_, err = c.Send(context.Background(), "club-1", "hi", nil)
	assert.True(t, errors.Is(err, types.ErrMuted), "got %v", err)

	e := <-c.Events()
	assert.Equal(t, types.EventUserCount, e.Name)
}

func TestRequestAfterClose(t *testing.T) {
	c := dial(t, scriptedServer(t, types.EventConnected, nil), time.Second)
	require.NoError(t, c.Close())
	_, err := c.Request(context.Background(), types.EventHeartbeat, nil)
	assert.True(t, errors.Is(err, ErrClosed))
	_, open := <-c.Events()
	assert.False(t, open)
}

func TestBackoff(t *testing.T) {
	c := &Client{opts: Options{Reconnect: types.ReconnectInfo{Attempts: 10, MinDelay: time.Second, MaxDelay: 5 * time.Second}}}
	assert.Equal(t, time.Second, c.backoff(0))
	assert.Equal(t, 2*time.Second, c.backoff(1))
	assert.Equal(t, 4*time.Second, c.backoff(2))
	assert.Equal(t, 5*time.Second, c.backoff(3))
	assert.Equal(t, 5*time.Second, c.backoff(9))
}
