// Package notify fans engine events out to realtime observers.
//
// Publish never blocks: every subscriber owns a bounded FIFO buffer and an event
// that does not fit is dropped for that subscriber and counted.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openctemio/secmon/internal/metrics"
	"github.com/openctemio/secmon/pkg/domain/event"
	"github.com/openctemio/secmon/pkg/logger"
)

// DefaultBuffer is the subscriber buffer size used when none is given.
const DefaultBuffer = 256

// Filter selects the events a subscriber receives. A nil filter accepts all.
type Filter func(event.Event) bool

// Sink is a transport that receives events from a dedicated subscription.
type Sink interface {
	Deliver(ctx context.Context, e event.Event) error
}

// Subscription is one subscriber's buffered view of the event stream.
type Subscription struct {
	name    string
	ch      chan event.Event
	filter  Filter
	n       *Notifier
	closed  bool
	dropped atomic.Int64
}

// C returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan event.Event {
	return s.ch
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped returns how many events were dropped for this subscriber.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Events published afterwards are not delivered.
func (s *Subscription) Close() {
	s.n.unsubscribe(s)
}

// Notifier is an in-process event bus. It implements event.Publisher.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *logger.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a notifier.
func New(log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		subs:   make(map[*Subscription]struct{}),
		logger: log.With("component", "notifier"),
		ctx:    ctx,
		cancel: cancel,
	}
}

var _ event.Publisher = (*Notifier)(nil)

// Subscribe registers a subscriber with a buffer of the given size.
func (n *Notifier) Subscribe(name string, buffer int, filter Filter) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		name:   name,
		ch:     make(chan event.Event, buffer),
		filter: filter,
		n:      n,
	}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "subscriber", name, "buffer", buffer)
	return s
}

func (n *Notifier) unsubscribe(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(n.subs, s)
	close(s.ch)
}

// Publish delivers e to every matching subscriber without blocking.
func (n *Notifier) Publish(_ context.Context, e event.Event) {
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Name)).Inc()

	n.mu.RLock()
	defer n.mu.RUnlock()

	for s := range n.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			metrics.EventsDroppedTotal.WithLabelValues(s.name).Inc()
			n.logger.Warn("subscriber buffer full, event dropped",
				"subscriber", s.name,
				"event", e.Name,
				"tenant_id", e.TenantID.String(),
			)
		}
	}
}

// Attach drains a dedicated subscription into sink on its own goroutine.
// Sink errors are logged and do not stop delivery.
func (n *Notifier) Attach(name string, buffer int, filter Filter, sink Sink) *Subscription {
	sub := n.Subscribe(name, buffer, filter)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for e := range sub.C() {
			if err := sink.Deliver(n.ctx, e); err != nil {
				n.logger.Warn("sink delivery failed", "sink", name, "event", e.Name, "error", err)
			}
		}
	}()
	return sub
}

// SubscriberCount returns the number of live subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close closes every subscription and waits for attached sinks to drain.
func (n *Notifier) Close() {
	n.mu.Lock()
	for s := range n.subs {
		s.closed = true
		close(s.ch)
	}
	n.subs = make(map[*Subscription]struct{})
	n.mu.Unlock()

	n.wg.Wait()
	n.cancel()
}

// TenantFilter accepts only events of one tenant.
func TenantFilter(tenantID string) Filter {
	return func(e event.Event) bool {
		return e.TenantID.String() == tenantID
	}
}

// NameFilter accepts only the given event names.
func NameFilter(names ...event.Name) Filter {
	set := make(map[event.Name]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return func(e event.Event) bool {
		_, ok := set[e.Name]
		return ok
	}
}
