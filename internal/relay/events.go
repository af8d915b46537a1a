package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	subscriptionBuffer   = 64
	pendingTerminalGrace = time.Minute
)

// Subscription is one operation's event feed. Cancel is idempotent and must be
// called on every resolution path.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

// Cancel removes the subscription from the dispatcher. Events published after
// cancellation are dropped.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type pendingTerminal struct {
	event    Event
	stashedAt time.Time
}

// Dispatcher routes protocol events to per-operation subscribers. There are no
// ambient listeners: a subscriber registers for exactly one operation ID and
// is removed exactly once. A terminal event arriving before its subscriber is
// stashed briefly so a send that resolves between Submit returning and the
// watchdog subscribing is not lost.
type Dispatcher struct {
	mu      sync.Mutex
	subs    map[string]chan Event
	pending map[string]pendingTerminal
	logger  *zap.Logger
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:    make(map[string]chan Event),
		pending: make(map[string]pendingTerminal),
		logger:  logger,
	}
}

// Subscribe registers for events matching the operation ID. A stashed terminal
// event for the operation is delivered immediately.
func (d *Dispatcher) Subscribe(operationID string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)

	d.mu.Lock()
	d.subs[operationID] = ch

	if stashed, ok := d.pending[operationID]; ok {
		delete(d.pending, operationID)
		ch <- stashed.event
	}
	d.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			d.mu.Lock()
			delete(d.subs, operationID)
			d.mu.Unlock()
		},
	}
}

// Publish delivers an event to the operation's subscriber, if any. Progress
// events without a subscriber (or with a full buffer) are dropped; terminal
// events without a subscriber are stashed for a short grace period.
func (d *Dispatcher) Publish(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.subs[event.OperationID]
	if !ok {
		if event.Terminal() {
			d.prunePendingLocked()
			d.pending[event.OperationID] = pendingTerminal{event: event, stashedAt: time.Now()}
		}

		return
	}

	select {
	case ch <- event:
	default:
		if event.Terminal() {
			d.logger.Warn("Dropped terminal event on full subscription buffer",
				zap.String("operation_id", event.OperationID))
		}
	}
}

// Pump publishes every event from updates until the channel closes.
func (d *Dispatcher) Pump(updates <-chan Event) {
	for event := range updates {
		d.Publish(event)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subs)
}

// prunePendingLocked drops stashed terminals older than the grace period.
// Caller must hold d.mu.
func (d *Dispatcher) prunePendingLocked() {
	cutoff := time.Now().Add(-pendingTerminalGrace)

	for id, stashed := range d.pending {
		if stashed.stashedAt.Before(cutoff) {
			delete(d.pending, id)
		}
	}
}
