// Package server manages individual WebSocket clients, handling read/write
// pumps, liveness, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Client is one live websocket connection and its registry entry.
// The principal is fixed at construction.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	principal   model.Principal
	closed      bool // guarded by hub.mutex
	heartbeat   *heartbeat
	rateLimiter *rateLimiter
	log         *zap.Logger
	releaseOnce sync.Once
}

// NewClient creates a Client for conn. A nil conn yields a client without
// pumps, which only buffers outbound frames.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, principal model.Principal) *Client {
	fields := []zap.Field{zap.String("addr", addr)}
	if id, ok := principal.Identity(); ok {
		fields = append(fields, zap.String("user_id", id.UserID), zap.String("username", id.Username))
	} else {
		fields = append(fields, zap.Bool("anonymous", true))
	}

	c := &Client{
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		addr:        addr,
		principal:   principal,
		rateLimiter: newRateLimiter(hub.cfg.RateLimit),
		log:         hub.log.With(fields...),
	}
	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
		c.heartbeat = newHeartbeat(hub.cfg.Liveness, c.ping, c.die)
	}
	return c
}

// Principal returns the identity of the connection.
func (c *Client) Principal() model.Principal { return c.principal }

// start launches the pumps and the heartbeat; called by the hub on admission.
func (c *Client) start(wg *sync.WaitGroup) {
	if c.conn == nil {
		return
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	c.heartbeat.start()
}

// release is the single cleanup path of a registry entry: it cancels the
// heartbeat and closes the outbound queue, which ends the write pump.
func (c *Client) release() {
	c.releaseOnce.Do(func() {
		if c.heartbeat != nil {
			c.heartbeat.stop()
		}
		close(c.send)
	})
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// die is called by the heartbeat when a probe went unanswered.
func (c *Client) die() {
	c.log.Info("client missed pong deadline", zap.Duration("deadline", c.hub.cfg.Liveness.PongDeadline))
	c.hub.Evict(c)
	c.closeConn()
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// readDeadline bounds a silent connection even if the heartbeat stalls.
func (c *Client) readDeadline() time.Time {
	lv := c.hub.cfg.Liveness
	return time.Now().Add(lv.PingInterval + lv.PongDeadline)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(c.readDeadline()); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		c.heartbeat.ack()
		if err := c.conn.SetReadDeadline(c.readDeadline()); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError logs why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("limit", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Evict(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		messageType, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !c.rateLimiter.allow() {
			c.log.Warn("rate limit exceeded; discarding message", zap.Int("burst", c.hub.cfg.RateLimit.Burst))
			continue
		}

		c.hub.onFrame(c.hub.ctx, c, rawMessage)
	}
}

func (c *Client) writePump() {
	defer c.closeConn()

	for message := range c.send {
		if !c.writeTextMessage(message) {
			return
		}
	}
	c.writeCloseMessage()
}

func (c *Client) writeCloseMessage() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", zap.Error(err))
	}
}

// writeTextMessage writes one JSON frame per websocket message.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}
