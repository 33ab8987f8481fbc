package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection defaults.
const (
	DefaultQueueSize    = 32
	DefaultWriteTimeout = 10 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultJoinTimeout  = 10 * time.Second
	maxFrameSize        = 4096
)

// ErrJoinRejected is returned by Serve when the first frame is not a join
// for the authenticated user.
var ErrJoinRejected = errors.New("push: join rejected")

// Compile-time check
var _ Conn = (*WSConn)(nil)

// ConnOption configures a WSConn.
type ConnOption func(*connOptions)

type connOptions struct {
	queueSize    int
	writeTimeout time.Duration
	pongTimeout  time.Duration
	joinTimeout  time.Duration
	logger       *slog.Logger
}

// WithQueueSize sets how many events may wait for a slow client.
func WithQueueSize(n int) ConnOption {
	return func(o *connOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithWriteTimeout sets the deadline for each frame written.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithPongTimeout sets how long the client may stay silent. Pings are sent
// at 9/10 of this interval.
func WithPongTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		if d > 0 {
			o.pongTimeout = d
		}
	}
}

// WithJoinTimeout sets how long the client has to send its join frame.
func WithJoinTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

// WithConnLogger sets a custom logger.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(o *connOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WSConn is a Conn over a gorilla websocket. A single writer goroutine owns
// all writes to the socket.
type WSConn struct {
	ws        *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
	opts      *connOptions
}

func newWSConn(ws *websocket.Conn, o *connOptions) *WSConn {
	return &WSConn{
		ws:   ws,
		send: make(chan Event, o.queueSize),
		done: make(chan struct{}),
		opts: o,
	}
}

// Send queues ev for the writer. Never blocks.
func (c *WSConn) Send(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close stops the writer and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.writeTimeout))
		err = c.ws.Close()
	})
	return err
}

// Serve runs the join handshake on an upgraded socket, registers it with
// hub under userID and blocks until the client goes away. A join naming
// another user closes the socket with a policy-violation status.
func Serve(hub *Hub, ws *websocket.Conn, userID string, opts ...ConnOption) error {
	o := &connOptions{
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		pongTimeout:  DefaultPongTimeout,
		joinTimeout:  DefaultJoinTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	ws.SetReadLimit(maxFrameSize)

	if err := awaitJoin(ws, userID, o.joinTimeout); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join rejected"),
			time.Now().Add(o.writeTimeout))
		_ = ws.Close()
		return err
	}

	c := newWSConn(ws, o)
	unregister := hub.Register(userID, c)
	defer unregister()

	go c.writeLoop()
	c.readLoop()
	return nil
}

func awaitJoin(ws *websocket.Conn, userID string, timeout time.Duration) error {
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoinRejected, err)
	}
	var frame struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: %v", ErrJoinRejected, err)
	}
	if frame.Event != EventJoin || frame.Data != userID {
		return ErrJoinRejected
	}
	return nil
}

// readLoop discards client frames and keeps the read deadline alive on
// pongs. It returns when the socket fails or is closed.
func (c *WSConn) readLoop() {
	defer c.Close()
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongTimeout))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.opts.logger.Debug("push connection closed", "error", err)
			}
			return
		}
	}
}

func (c *WSConn) writeLoop() {
	ticker := time.NewTicker(c.opts.pongTimeout * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.opts.logger.Debug("push write failed", "error", err, "event", ev.Name)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
