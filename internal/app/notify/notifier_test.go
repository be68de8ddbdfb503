package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
)

func TestNotifier_FanOutPreservesOrder(t *testing.T) {
	n := New(logger.NewNop())
	defer n.Close()

	tenantID := shared.NewID()
	a := n.Subscribe("a", 10, nil)
	b := n.Subscribe("b", 10, nil)

	for i := range 5 {
		n.Publish(context.Background(), event.New(event.SecurityAlert, tenantID, i))
	}

	for _, sub := range []*Subscription{a, b} {
		for i := range 5 {
			e := <-sub.C()
			assert.Equal(t, i, e.Payload, "subscriber %s", sub.Name())
		}
	}
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	n := New(logger.NewNop())
	defer n.Close()

	slow := n.Subscribe("slow", 2, nil)
	fast := n.Subscribe("fast", 10, nil)

	done := make(chan struct{})
	go func() {
		for range 5 {
			n.Publish(context.Background(), event.New(event.SecurityMetricsUpdate, shared.NewID(), nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, int64(3), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Len(t, slow.C(), 2)
	assert.Len(t, fast.C(), 5)
}

func TestNotifier_ClosedSubscriberReceivesNothing(t *testing.T) {
	n := New(logger.NewNop())
	defer n.Close()

	sub := n.Subscribe("gone", 4, nil)
	sub.Close()
	sub.Close()

	n.Publish(context.Background(), event.New(event.ScanStarted, shared.NewID(), nil))

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, n.SubscriberCount())
}

func TestNotifier_Filters(t *testing.T) {
	n := New(logger.NewNop())
	defer n.Close()

	tenantA := shared.NewID()
	tenantB := shared.NewID()

	onlyA := n.Subscribe("tenant-a", 10, TenantFilter(tenantA.String()))
	onlyScans := n.Subscribe("scans", 10, NameFilter(event.ScanStarted, event.ScanCompleted))

	n.Publish(context.Background(), event.New(event.SecurityAlert, tenantA, nil))
	n.Publish(context.Background(), event.New(event.SecurityAlert, tenantB, nil))
	n.Publish(context.Background(), event.New(event.ScanStarted, tenantB, nil))

	assert.Len(t, onlyA.C(), 1)
	assert.Len(t, onlyScans.C(), 1)
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, event.Event) error {
	return errors.New("transport down")
}

func TestNotifier_AttachSinks(t *testing.T) {
	n := New(logger.NewNop())

	rec := NewRecorder()
	n.Attach("recorder", 10, nil, rec)
	n.Attach("broken", 10, nil, failingSink{})

	tenantID := shared.NewID()
	n.Publish(context.Background(), event.New(event.ScanStarted, tenantID, nil))
	n.Publish(context.Background(), event.New(event.ScanCompleted, tenantID, nil))

	n.Close()

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.ScanStarted, events[0].Name)
	assert.Equal(t, event.ScanCompleted, events[1].Name)
	assert.Len(t, rec.Named(event.ScanCompleted), 1)
}
