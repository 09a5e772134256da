// Package chatclient is a Go client for the chat websocket protocol. Requests are correlated with their acks
// by id; after a dropped connection it reconnects with backoff and re-joins the rooms it was in.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/types"
)

var (
	ErrTimeout = errors.New("request timed out")
	ErrClosed  = errors.New("client closed")
)

// EventReconnected is emitted locally after a successful reconnect and re-join.
const EventReconnected = "reconnected"

const (
	defaultRequestTimeout = 10 * time.Second
	eventBufferSize       = 1024
)

type Options struct {
	// URL of the websocket endpoint, f.e. ws://localhost:8000/api/socketio
	URL      string
	Token    string
	Provider string
	// Reconnect bounds; zero values are taken from the server's connected event. Zero attempts disable
	// reconnecting.
	Reconnect      types.ReconnectInfo
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
	Logger         hclog.Logger
}

// Event is a server event that is not an ack.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event data into out.
func (e Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Data, out)
}

type Client struct {
	opts   Options
	logger hclog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected types.Connected
	rooms     map[string]struct{}
	pending   map[string]chan types.Ack

	writeMu sync.Mutex
	seq     uint64

	events       chan Event
	eventsClosed bool
	closed       chan struct{}
	closeOnce    sync.Once
}

// Dial connects and waits for the server's connected event.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Client{
		opts:    opts,
		logger:  globals.Logger(opts.Logger, "chatclient"),
		rooms:   make(map[string]struct{}),
		pending: make(map[string]chan types.Ack),
		events:  make(chan Event, eventBufferSize),
		closed:  make(chan struct{}),
	}
	conn, connected, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.connected = connected
	if c.opts.Reconnect.Attempts == 0 {
		c.opts.Reconnect = connected.Reconnect
	}
	go c.readLoop(conn)
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, types.Connected, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, types.Connected{}, err
	}
	q := u.Query()
	q.Set("transport", "websocket")
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	if c.opts.Provider != "" {
		q.Set("provider", c.opts.Provider)
	}
	u.RawQuery = q.Encode()

	conn, _, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, types.Connected{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.RequestTimeout))
	}
	m := types.WebsocketMessage{}
	if err := conn.ReadJSON(&m); err != nil {
		conn.Close()
		return nil, types.Connected{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	connected := types.Connected{}
	if m.Event != types.EventConnected || json.Unmarshal(m.Data, &connected) != nil {
		conn.Close()
		return nil, types.Connected{}, fmt.Errorf("expected %s event, got %q", types.EventConnected, m.Event)
	}
	return conn, connected, nil
}

// Events delivers every server event except acks. It is closed when the client gives up or is closed.
// Events are dropped if the channel is not drained.
func (c *Client) Events() <-chan Event {
	return c.events
}

// ConnectionId returns the server-side id of the current connection.
func (c *Client) ConnectionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected.ConnectionId
}

// User returns the identity the server resolved, nil for anonymous connections.
func (c *Client) User() *types.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected.User
}

func (c *Client) write(conn *websocket.Conn, m types.WebsocketMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	return conn.WriteJSON(m)
}

func (c *Client) current() (*websocket.Conn, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, nil
}

func frame(event string, payload interface{}) (types.WebsocketMessage, error) {
	m := types.WebsocketMessage{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return m, err
		}
		m.Data = data
	}
	return m, nil
}

// Emit sends an event without waiting for an ack.
func (c *Client) Emit(event string, payload interface{}) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	m, err := frame(event, payload)
	if err != nil {
		return err
	}
	return c.write(conn, m)
}

// Request sends an event and waits for its ack. A rejected request returns the server's *types.ChatError.
func (c *Client) Request(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	m, err := frame(event, payload)
	if err != nil {
		return nil, err
	}
	m.Id = strconv.FormatUint(atomic.AddUint64(&c.seq, 1), 10)
	ch := make(chan types.Ack, 1)
	c.mu.Lock()
	c.pending[m.Id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.Id)
		c.mu.Unlock()
	}()

	if err := c.write(conn, m); err != nil {
		return nil, err
	}
	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.Ok {
			if ack.Error == nil {
				return nil, types.NewError(types.CodeInvalidInput, "request failed")
			}
			return nil, &types.ChatError{Code: ack.Error.Code, Message: ack.Error.Message}
		}
		return ack.Data, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Join joins the room and remembers it for re-joining after a reconnect.
func (c *Client) Join(ctx context.Context, roomId string) (*types.RoomJoined, error) {
	data, err := c.Request(ctx, types.EventJoinRoom, types.RoomRequest{RoomId: roomId})
	if err != nil {
		return nil, err
	}
	joined := &types.RoomJoined{}
	if err := json.Unmarshal(data, joined); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rooms[roomId] = struct{}{}
	c.mu.Unlock()
	return joined, nil
}

func (c *Client) Leave(ctx context.Context, roomId string) error {
	if _, err := c.Request(ctx, types.EventLeaveRoom, types.RoomRequest{RoomId: roomId}); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.rooms, roomId)
	c.mu.Unlock()
	return nil
}

func (c *Client) Send(ctx context.Context, roomId, message string, format *types.Format) (*types.ChatMessage, error) {
	data, err := c.Request(ctx, types.EventSendMessage, types.SendMessageRequest{RoomId: roomId, Message: message, Format: format})
	if err != nil {
		return nil, err
	}
	msg := &types.ChatMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Heartbeat measures the round trip to the server.
func (c *Client) Heartbeat(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Request(ctx, types.EventHeartbeat, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Rooms returns the rooms that are re-joined after a reconnect.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for roomId := range c.rooms {
		rooms = append(rooms, roomId)
	}
	return rooms
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		m := types.WebsocketMessage{}
		if err := conn.ReadJSON(&m); err != nil {
			select {
			case <-c.closed:
				c.closeEvents()
				return
			default:
			}
			c.logger.Debug("connection lost", "error", err)
			conn.Close()
			next, ok := c.reconnect()
			if !ok {
				c.closeEvents()
				return
			}
			conn = next
			continue
		}
		if m.Event == types.EventAck {
			ack := types.Ack{}
			if err := json.Unmarshal(m.Data, &ack); err != nil {
				c.logger.Warn("malformed ack", "error", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[ack.Id]
			c.mu.Unlock()
			if ok {
				ch <- ack
			}
			continue
		}
		c.emitLocal(Event{Name: m.Event, Data: m.Data})
	}
}

func (c *Client) emitLocal(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event buffer full, dropping event", "event", e.Name)
	}
}

func (c *Client) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsClosed = true
	close(c.events)
}

func (c *Client) backoff(attempt int) time.Duration {
	rc := c.opts.Reconnect
	d := rc.MinDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if rc.MaxDelay > 0 && d >= rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return d
}

// reconnect dials until it succeeds or the attempts are used up. The read loop for the new connection is
// the caller; re-joining runs concurrently because it needs that loop to receive the acks.
func (c *Client) reconnect() (*websocket.Conn, bool) {
	attempts := c.opts.Reconnect.Attempts
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-time.After(c.backoff(attempt)):
		case <-c.closed:
			return nil, false
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		conn, connected, err := c.connect(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.connected = connected
		c.mu.Unlock()
		select {
		case <-c.closed:
			// Close ran against the old connection
			conn.Close()
			return nil, false
		default:
		}
		go c.rejoin()
		return conn, true
	}
	c.logger.Warn("giving up reconnecting", "attempts", attempts)
	return nil, false
}

func (c *Client) rejoin() {
	for _, roomId := range c.Rooms() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		_, err := c.Join(ctx, roomId)
		cancel()
		if err != nil {
			c.logger.Warn("could not re-join room", "room", roomId, "error", err)
		}
	}
	c.emitLocal(Event{Name: EventReconnected})
}
