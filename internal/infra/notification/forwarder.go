package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/secmon/internal/app/notify"
	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

var _ notify.Sink = (*Forwarder)(nil)

// Forwarder is a notifier sink that sends security-alert events at or above
// a minimum severity to an external channel. Sends beyond the per-minute
// budget are dropped and counted.
type Forwarder struct {
	client      Client
	minSeverity shared.Severity
	limiter     *rate.Limiter
	logger      *logger.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(client Client, minSeverity shared.Severity, perMinute int, log *logger.Logger) *Forwarder {
	perMinute = max(perMinute, 1)
	return &Forwarder{
		client:      client,
		minSeverity: minSeverity,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:      log.With("component", "alert_forwarder", "provider", client.Provider()),
	}
}

// Deliver implements notify.Sink.
func (f *Forwarder) Deliver(ctx context.Context, e event.Event) error {
	if e.Name != event.SecurityAlert {
		return nil
	}

	p, err := alertPayloadOf(e)
	if err != nil {
		return fmt.Errorf("decode alert payload: %w", err)
	}
	sev, err := shared.ParseSeverity(p.Severity)
	if err != nil || !sev.AtLeast(f.minSeverity) {
		return nil
	}

	provider := f.client.Provider()
	if !f.limiter.Allow() {
		metrics.AlertsForwardedTotal.WithLabelValues(provider, "rate_limited").Inc()
		f.logger.Warn("alert forward budget exhausted, alert not sent",
			"tenant_id", e.TenantID.String(),
			"alert_id", p.ID,
		)
		return nil
	}

	if err := f.client.Send(ctx, alertMessage(e.TenantID, sev, p)); err != nil {
		metrics.AlertsForwardedTotal.WithLabelValues(provider, "failed").Inc()
		return fmt.Errorf("forward alert %s: %w", p.ID, err)
	}
	metrics.AlertsForwardedTotal.WithLabelValues(provider, "sent").Inc()
	return nil
}

// alertPayloadOf accepts the typed payload and, for relayed events, any
// payload that marshals to the same JSON shape.
func alertPayloadOf(e event.Event) (event.AlertPayload, error) {
	switch p := e.Payload.(type) {
	case event.AlertPayload:
		return p, nil
	case *event.AlertPayload:
		return *p, nil
	}

	var p event.AlertPayload
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(data, &p)
	return p, err
}

func alertMessage(tenantID shared.ID, sev shared.Severity, p event.AlertPayload) Message {
	fields := map[string]string{
		"Type":     p.Type,
		"Severity": sev.Title(),
	}
	if len(p.AffectedAssets) > 0 {
		fields["Affected assets"] = strconv.Itoa(len(p.AffectedAssets))
	}
	if p.VulnerabilityID != "" {
		fields["Vulnerability"] = p.VulnerabilityID
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return Message{
		Title:     fmt.Sprintf("%s security alert", sev.Title()),
		Body:      p.Message,
		Severity:  sev,
		TenantID:  tenantID.String(),
		AlertID:   p.ID,
		Fields:    fields,
		Timestamp: ts,
	}
}
