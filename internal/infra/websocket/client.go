package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openctemio/secmon/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxInboundMessage         = 4096
	maxSubscriptionsPerClient = 50
	sendQueueSize             = 256
)

// Client is one browser connection, bound to a single tenant for its lifetime.
type Client struct {
	ID       string
	TenantID string

	hub    *Hub
	conn   *websocket.Conn
	logger *logger.Logger

	// send is never closed; closing signals the write pump instead, so a
	// late SendMessage can't panic.
	send      chan []byte
	closing   chan struct{}
	closeOnce sync.Once

	subMu sync.Mutex
	subs  map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, tenantID string, log *logger.Logger) *Client {
	return &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		hub:      hub,
		conn:     conn,
		logger:   log,
		send:     make(chan []byte, sendQueueSize),
		closing:  make(chan struct{}),
		subs:     make(map[string]struct{}),
	}
}

// Subscribe records channel locally. It returns false when the channel is
// already held or the client is at maxSubscriptionsPerClient.
func (c *Client) Subscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.subs[channel]; ok {
		return false
	}
	if len(c.subs) >= maxSubscriptionsPerClient {
		c.logger.Warn("client subscription limit reached", "client_id", c.ID, "max", maxSubscriptionsPerClient)
		return false
	}
	c.subs[channel] = struct{}{}
	return true
}

func (c *Client) Unsubscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.subs[channel]; !ok {
		return false
	}
	delete(c.subs, channel)
	return true
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

// SendMessage queues msg without blocking. A full queue drops the message.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.closing:
		return nil
	default:
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("client queue full, message dropped", "client_id", c.ID, "tenant_id", c.TenantID)
	}
	return nil
}

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// ReadPump handles inbound control messages until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket closed unexpectedly", "client_id", c.ID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("INVALID_MESSAGE", "Invalid message format", "")
			continue
		}
		c.handle(&msg)
	}
}

// WritePump writes queued messages, one per frame, and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		_ = c.SendMessage(NewMessage(MessageTypePong).WithRequestID(msg.RequestID))
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		req := channelRequest(msg)
		if req.Channel == "" {
			c.replyError("INVALID_CHANNEL", "Channel is required", req.RequestID)
			return
		}
		reply := MessageTypeSubscribed
		if msg.Type == MessageTypeSubscribe {
			if !c.hub.Subscribe(c, req.Channel) {
				c.replyError("FORBIDDEN", "Access denied to channel", req.RequestID)
				return
			}
		} else {
			if c.Unsubscribe(req.Channel) {
				c.hub.unsubscribeFromChannel(c, req.Channel)
			}
			reply = MessageTypeUnsubscribed
		}
		_ = c.SendMessage(NewMessage(reply).WithChannel(req.Channel).WithRequestID(req.RequestID))
	default:
		c.replyError("UNKNOWN_MESSAGE_TYPE", "Unknown message type: "+string(msg.Type), msg.RequestID)
	}
}

// channelRequest reads the channel from data, falling back to the envelope.
func channelRequest(msg *Message) SubscribeRequest {
	var req SubscribeRequest
	if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &req) != nil || req.Channel == "" {
		req.Channel = msg.Channel
	}
	if req.RequestID == "" {
		req.RequestID = msg.RequestID
	}
	return req
}

func (c *Client) replyError(code, message, requestID string) {
	_ = c.SendMessage(NewMessage(MessageTypeError).
		WithData(ErrorData{Code: code, Message: message}).
		WithRequestID(requestID))
}
