package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/logger"
)

// DefaultEventChannel is the pub/sub channel events are relayed on.
const DefaultEventChannel = "secmon:events"

// RemotePayload is the undecoded payload of an event received from another
// instance. It marshals back to the original JSON.
type RemotePayload json.RawMessage

// MarshalJSON implements json.Marshaler.
func (p RemotePayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

type wireEvent struct {
	event.Event
	Payload json.RawMessage `json:"payload"`
}

// EventRelay forwards locally published events to other instances and
// republishes their events into the local notifier.
type EventRelay struct {
	client  *Client
	channel string
	origin  string
	local   event.Publisher
	logger  *logger.Logger
}

// NewEventRelay creates a relay. local receives events from other instances.
func NewEventRelay(client *Client, channel string, local event.Publisher, log *logger.Logger) *EventRelay {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &EventRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  log.With("component", "event_relay"),
	}
}

// Origin returns the id stamped on events sent by this instance.
func (r *EventRelay) Origin() string {
	return r.origin
}

// Local reports whether e was published on this instance. Use it as the
// subscription filter so remote events are not relayed back.
func (r *EventRelay) Local(e event.Event) bool {
	_, remote := e.Payload.(RemotePayload)
	return !remote
}

// Deliver publishes e on the relay channel.
func (r *EventRelay) Deliver(ctx context.Context, e event.Event) error {
	data, err := encodeEnvelope(r.origin, e)
	if err != nil {
		return err
	}

	done := Timed("relay_publish")
	err = r.client.rdb.Publish(ctx, r.channel, data).Err()
	done(err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	DefaultMetrics.RecordRelay("out")
	return nil
}

// StartListener subscribes to the relay channel and republishes events from
// other instances until ctx is done.
func (r *EventRelay) StartListener(ctx context.Context) error {
	pubsub := r.client.rdb.Subscribe(ctx, r.channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to channel: %w", err)
	}

	r.logger.Info("event relay listening", "channel", r.channel, "origin", r.origin)

	go r.listenLoop(ctx, pubsub)
	return nil
}

func (r *EventRelay) listenLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopping")
			return

		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn("pub/sub channel closed")
				return
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *EventRelay) handle(ctx context.Context, data []byte) {
	e, origin, err := decodeEnvelope(data)
	if err != nil {
		r.logger.Error("failed to decode relayed event", "error", err)
		return
	}
	if origin == r.origin {
		return
	}
	DefaultMetrics.RecordRelay("in")
	r.local.Publish(ctx, e)
}

func encodeEnvelope(origin string, e event.Event) ([]byte, error) {
	ev, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	data, err := json.Marshal(envelope{Origin: origin, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (event.Event, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return event.Event{}, "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	var w wireEvent
	if err := json.Unmarshal(env.Event, &w); err != nil {
		return event.Event{}, "", fmt.Errorf("unmarshal event: %w", err)
	}
	e := w.Event
	e.Payload = RemotePayload(w.Payload)
	return e, env.Origin, nil
}
