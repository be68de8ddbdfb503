package websocket

import (
	"context"
	"encoding/json"

	"github.com/openctemio/secmon/internal/app/notify"
	"github.com/openctemio/secmon/pkg/domain/event"
)

var _ notify.Sink = (*Hub)(nil)

// Deliver broadcasts e on its tenant channel and, for scan lifecycle events,
// on the scan channel too.
func (h *Hub) Deliver(ctx context.Context, e event.Event) error {
	tenantID := e.TenantID.String()
	msg := eventMessage(MakeChannel(ChannelTypeTenant, tenantID), e)
	if err := h.Broadcast(ctx, msg.Channel, msg, tenantID); err != nil {
		return err
	}

	if scanID := scanIDOf(e); scanID != "" {
		scanMsg := eventMessage(MakeChannel(ChannelTypeScan, scanID), e)
		return h.Broadcast(ctx, scanMsg.Channel, scanMsg, tenantID)
	}
	return nil
}

func eventMessage(channel string, e event.Event) *Message {
	return NewMessage(MessageTypeEvent).
		WithChannel(channel).
		WithData(EventData{
			Event:     string(e.Name),
			Payload:   e.Payload,
			Timestamp: e.Timestamp,
		})
}

// scanIDOf returns the scan id carried by scan lifecycle events. Payloads
// relayed from other instances arrive as raw JSON.
func scanIDOf(e event.Event) string {
	switch e.Name {
	case event.ScanStarted, event.ScanCompleted, event.ScanFailed:
	default:
		return ""
	}

	switch p := e.Payload.(type) {
	case event.ScanPayload:
		return p.ID
	case json.Marshaler:
		data, err := p.MarshalJSON()
		if err != nil {
			return ""
		}
		var v struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(data, &v) != nil {
			return ""
		}
		return v.ID
	default:
		return ""
	}
}
