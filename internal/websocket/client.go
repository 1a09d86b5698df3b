package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"foxchat/internal/models"
	"foxchat/pkg/logger"

	"github.com/gorilla/websocket"
)

type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateClosing
	stateClosed
)

const (
	// Clients send a keep-alive roughly every 30 seconds; two missed
	// intervals mean the connection is dead.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	sendBufferSize = 256
)

// Client is one live transport session. It starts unauthenticated; the
// first frame must carry a valid credential or the connection is closed
// with a policy violation code.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	// Set on successful authentication, immutable afterwards.
	id       ConnID
	identity models.Identity

	state     atomic.Int32
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) State() connState {
	return connState(c.state.Load())
}

func (c *Client) authenticated() bool {
	return c.State() == stateAuthenticated
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the consumer is too slow; the caller must treat false as a delivery
// failure.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(code, text string) {
	if !c.enqueue(models.EncodeError(code, text)) {
		logger.Error("Dropping error frame for connection %d (buffer full)", c.id)
	}
}

// Disconnect tears the session down: releases every subscription, then the
// transport. Idempotent; safe from any goroutine.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		if c.id != 0 {
			c.hub.registry.UnregisterAll(c.id)
		}
		close(c.done)
		c.conn.Close()
		c.state.Store(int32(stateClosed))
	})
}

// closeWithPolicyViolation sends a close control frame before tearing down,
// used for handshake failures.
func (c *Client) closeWithPolicyViolation(reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logger.Debug("Failed to write close frame: %v", err)
	}
	c.Disconnect()
}

// ReadPump reads inbound frames until the connection dies, then releases
// all subscriptions exactly once.
func (c *Client) ReadPump() {
	defer c.Disconnect()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on connection %d: %v", c.id, err)
			}
			return
		}

		// Any inbound frame counts as liveness.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := models.DecodeInbound(raw)
		if err != nil {
			c.sendError(models.ErrCodeInvalidFrame, err.Error())
			continue
		}

		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *models.InboundFrame) {
	switch frame.Type {
	case models.FrameTypePing:
		pong := &models.OutboundFrame{Type: models.FrameTypePong, Timestamp: time.Now().UTC().Format(time.RFC3339)}
		c.enqueue(pong.Encode())

	case models.FrameTypeAuth:
		c.hub.handleAuth(c, frame)

	case models.FrameTypeSubscribe:
		if !c.authenticated() {
			c.sendError(models.ErrCodeAuthRequired, "must authenticate first")
			return
		}
		c.hub.handleSubscribe(c, frame)

	case models.FrameTypeUnsubscribe:
		if !c.authenticated() {
			c.sendError(models.ErrCodeAuthRequired, "must authenticate first")
			return
		}
		c.hub.handleUnsubscribe(c, frame)

	case models.FrameTypePublish:
		if !c.authenticated() {
			c.sendError(models.ErrCodeAuthRequired, "must authenticate first")
			return
		}
		c.hub.handlePublish(c, frame)
	}
}

// WritePump serializes all outbound traffic for this connection and keeps
// the transport alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Disconnect()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error on connection %d: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
