package network

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MRamiBalles/needsim/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client holds one WebSocket connection and its rate-limit window.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.tuning.ClientSendBuffer),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

func (c *Client) unregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// ReadPump pumps messages from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		c.unregister()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.collector.RecordWSError()
				c.hub.logger.Warn("WebSocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			break
		}
		c.hub.collector.RecordWSMessage(true)
		c.handleMessage(message)
	}
}

// allow applies the per-client messages-per-second limit.
func (c *Client) allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= c.hub.tuning.MaxMessagesPerSecond
}

func (c *Client) handleMessage(raw []byte) {
	// 1. Rate Limiting Check
	if !c.allow(time.Now()) {
		c.hub.collector.RecordWSRejected()
		c.hub.logger.Warn("Rate limit exceeded for client", zap.String("client_id", c.id))
		return
	}

	// 2. Validate at the boundary
	msg, err := parseClientMessage(raw)
	if err != nil {
		c.hub.collector.RecordWSRejected()
		c.hub.logger.Warn("Rejected WebSocket message", zap.String("client_id", c.id), zap.Error(err))
		return
	}

	// 3. Route
	switch msg.Type {
	case MsgAction:
		err = c.hub.sim.ApplyBuff(msg.CharacterID, msg.Action, msg.StacksOrDefault())
	case MsgRemoveBuff:
		_, err = c.hub.sim.RemoveBuff(msg.CharacterID, msg.BuffID)
	}

	switch {
	case err == nil:
		c.hub.logger.Event(msg.Type, msg.CharacterID, msg.Action+msg.BuffID)
	case errors.Is(err, engine.ErrCharacterNotFound):
		c.hub.logger.Warn("Message for unknown character", zap.String("client_id", c.id), zap.String("character_id", msg.CharacterID))
	case errors.Is(err, engine.ErrUnknownBuff):
		// Dropped silently; the engine already recorded the rejection.
	default:
		c.hub.logger.Warn("Action failed", zap.String("client_id", c.id), zap.Error(err))
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// Each message goes out as its own frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.collector.RecordWSError()
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
