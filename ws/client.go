package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/types"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub
	id  string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames. It is never closed; the write loop exits on done.
	send chan []byte

	// user is the server-resolved identity, nil for anonymous connections. It never changes.
	user *types.User

	done      chan struct{}
	closeOnce sync.Once
	logger    hclog.Logger
}

func newClient(hub *Hub, id string, conn *websocket.Conn, user *types.User) *Client {
	logger := hub.logger.Named("client").With("conn", id)
	if user != nil {
		logger = logger.With("user", user.Id)
	}
	return &Client{
		hub:    hub,
		id:     id,
		conn:   conn,
		send:   make(chan []byte, hub.transport.SendBufferSize),
		user:   user,
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Client) Id() string {
	return c.id
}

// enqueue hands a frame to the write loop. A client that cannot keep up is disconnected instead of
// stalling the room.
func (c *Client) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("send buffer full, disconnecting slow client")
		c.close()
	}
}

// close tears down the connection; ReadLoop notices and runs the hub cleanup.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) shutdown(reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(c.hub.transport.WriteWait))
	c.close()
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine. Disconnect cleanup runs when it returns, whatever the reason.
func (c *Client) ReadLoop() {
	defer func() {
		c.close()
		c.hub.unregister(c)
	}()
	pongWait := c.hub.transport.PongWait
	c.conn.SetReadLimit(c.hub.transport.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("connection closed unexpectedly", "error", err)
			}
			return
		}
		// any frame proves the peer is alive
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil || message.Event == "" {
			c.hub.sendTo(c, types.EventError, types.ErrorPayload{Code: types.CodeInvalidInput, Message: "malformed frame"})
			continue
		}
		c.hub.dispatch(c, message)
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(c.hub.transport.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	writeWait := c.hub.transport.WriteWait
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}
