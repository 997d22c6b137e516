// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// Client represents one WebSocket connection. Each client gets an opaque
// connection id that the coordinator uses for session bindings and sender
// exclusion.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	closed      bool
	rateLimiter *rateLimiter
	logger      *zap.Logger
}

// NewClient creates a Client for the given connection with a fresh connection
// id. The send channel is buffered so broadcasts never block the hub loop.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.serverCfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         hub,
		addr:        addr,
		rateLimiter: newRateLimiter(hub.rateLimitCfg.Burst, hub.rateLimitCfg.RefillInterval),
		logger:      hub.logger.With(zap.String("conn_id", id), zap.String("addr", addr)),
	}
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's outbound frame channel.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError classifies a read error and reports whether the read loop
// should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded read limit",
			zap.Int64("max_message_size", c.hub.serverCfg.MaxMessageSize),
		)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("client closed connection", zap.Error(err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("connection closed", zap.Error(err))
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected websocket error", zap.Error(err))
		return true
	}

	c.logger.Warn("websocket read error", zap.Error(err))
	return true
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage decodes a raw frame into a protocol envelope and hands it to
// the hub's event loop. Malformed frames are dropped and the connection
// stays up.
func (c *Client) processMessage(rawMessage []byte) bool {
	var env Envelope
	if err := json.Unmarshal(rawMessage, &env); err != nil {
		c.logger.Debug("invalid frame", zap.Error(err))
		return false
	}
	if env.Event == "" {
		c.logger.Debug("frame missing event name")
		return false
	}

	select {
	case c.hub.inbound <- inboundEvent{connID: c.id, envelope: env}:
		return true
	case <-c.hub.ctx.Done():
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		// The hub loop stops consuming unregister during shutdown; don't
		// block forever in that window.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes an outbound frame and returns false if the connection
// should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.logger.Warn("setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes a frame and drains any queued frames behind it.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Debug("creating writer", zap.Error(err))
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Debug("writing frame", zap.Error(err))
		return false
	}

	// Each queued frame is a standalone JSON envelope, so they are written
	// as separate messages rather than concatenated.
	if err := w.Close(); err != nil {
		c.logger.Debug("closing writer", zap.Error(err))
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeQueuedMessage() {
			return false
		}
	}
	return true
}

func (c *Client) writeQueuedMessage() bool {
	message, ok := <-c.send
	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug("writing queued frame", zap.Error(err))
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.logger.Warn("setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("writing ping message", zap.Error(err))
		return false
	}
	return true
}
