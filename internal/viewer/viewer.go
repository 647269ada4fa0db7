// Package viewer wraps a single browser WebSocket connection: the read/write
// pumps, keepalive, and inbound message dispatch (resize, metrics_response).
package viewer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 * 1024 * 1024
	sendQueueCap   = 64
)

// Router is the subset of Hub behavior a Client needs, kept as an interface
// to avoid an import cycle between viewer and hub.
type Router interface {
	RegisterViewer(c *Client)
	UnregisterViewer(c *Client)
	HandleResize(c *Client, line string)
	HandleMetricsResponse(c *Client, line string)
}

// Client is one browser tab's WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	router Router

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	log *zap.SugaredLogger
}

// New wraps conn and immediately registers the client with router. Callers
// must invoke Run to start the pumps.
func New(id string, conn *websocket.Conn, router Router) *Client {
	c := &Client{
		id:     id,
		conn:   conn,
		router: router,
		send:   make(chan []byte, sendQueueCap),
		closed: make(chan struct{}),
		log:    logger.ComponentLogger("viewer").With(logger.FieldClientID, id),
	}
	router.RegisterViewer(c)
	return c
}

// ID returns the viewer's connection identity.
func (c *Client) ID() string { return c.id }

// Run starts the write pump and blocks in the read pump until the
// connection closes. Call from the goroutine that owns the upgrade.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound frames and dispatches by message type. Only
// text frames carrying recognized types are routed; anything else is
// logged at most (never causes an error).
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debugw("viewer read error", logger.FieldError, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if logger.ShouldShowNDJSONLines(logger.CurrentVerbosity()) {
			c.log.Debugw("viewer line", "line", string(data))
		}
		c.routeMessage(string(data))
	}
}

// routeMessage dispatches a single inbound line by its "type" tag.
func (c *Client) routeMessage(line string) {
	tag, ok := session.ExtractType(line)
	if !ok {
		c.log.Debugw("viewer message missing type tag")
		return
	}
	switch tag {
	case "resize":
		c.router.HandleResize(c, line)
	case "metrics_response":
		c.router.HandleMetricsResponse(c, line)
	default:
		if logger.ShouldShowSessionStatus(logger.CurrentVerbosity()) {
			c.log.Debugw("ignoring unrecognized viewer message type", logger.FieldType, tag)
		}
	}
}

// writePump is the client's single writer: it serializes outbound frames
// and ping control messages onto one goroutine, same discipline as the
// per-session serial write queue.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debugw("viewer write error", logger.FieldError, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Send enqueues line for delivery to the browser. Drops the message rather
// than blocking the caller (typically a producer session's goroutine
// broadcasting through the Hub) if the viewer is too far behind.
func (c *Client) Send(line []byte) {
	select {
	case c.send <- line:
	case <-c.closed:
	default:
		c.log.Warnw("viewer send queue full, dropping message")
	}
}

// Close shuts the connection down exactly once and unregisters from the
// router.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.router.UnregisterViewer(c)
	})
}
