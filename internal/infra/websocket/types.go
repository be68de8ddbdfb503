// Package websocket pushes engine events to browser clients.
//
// Every frame is a JSON Message. Clients send subscribe, unsubscribe and
// ping; the server answers with subscribed, unsubscribed, pong or error, and
// pushes engine events as:
//
//	{"type":"event","channel":"tenant:<id>","data":{"event":"security-alert","payload":{...}},"timestamp":...}
package websocket

import (
	"encoding/json"
	"strings"
	"time"
)

type MessageType string

// Inbound.
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
)

// Outbound.
const (
	MessageTypePong         MessageType = "pong"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeEvent        MessageType = "event"
	MessageTypeError        MessageType = "error"
)

// Message is the envelope of every frame. Timestamp is Unix milliseconds.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

func NewMessage(t MessageType) *Message {
	return &Message{Type: t, Timestamp: time.Now().UnixMilli()}
}

func (m *Message) WithChannel(channel string) *Message {
	m.Channel = channel
	return m
}

// WithData marshals data into the envelope. Unmarshalable data is left out.
func (m *Message) WithData(data any) *Message {
	if data == nil {
		return m
	}
	if raw, err := json.Marshal(data); err == nil {
		m.Data = raw
	}
	return m
}

// WithRequestID echoes the id the client sent so it can match replies.
func (m *Message) WithRequestID(id string) *Message {
	m.RequestID = id
	return m
}

// SubscribeRequest may also be given through Message.Channel directly.
type SubscribeRequest struct {
	Channel   string `json:"channel"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventData is the data of an "event" message.
type EventData struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelType is the part of a channel name before the colon.
type ChannelType string

const (
	// ChannelTypeTenant carries every engine event of one tenant.
	ChannelTypeTenant ChannelType = "tenant"
	// ChannelTypeScan carries the lifecycle events of one scan job.
	ChannelTypeScan ChannelType = "scan"
)

// MakeChannel returns "<type>:<id>".
func MakeChannel(t ChannelType, id string) string {
	return string(t) + ":" + id
}

// ParseChannel splits "<type>:<id>". A name without a colon has no type.
func ParseChannel(channel string) (ChannelType, string) {
	t, id, ok := strings.Cut(channel, ":")
	if !ok {
		return "", channel
	}
	return ChannelType(t), id
}
