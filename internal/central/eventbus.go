package central

import (
	"sync"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// Event is one observable state change emitted by the central manager.
// Peripheral-scoped events carry a record snapshot; adapter events carry the
// new state; failure and disconnect events may carry a cause.
type Event struct {
	Type       models.EventType
	Peripheral models.PeripheralRecord
	State      models.AdapterState
	Cause      error
}

// EventHandler receives events. Handlers run on the bus dispatch goroutine,
// one at a time; anything slow should hop onto its own goroutine.
type EventHandler func(Event)

// busSubscription tracks a handler with an ID for safe unsubscribe
type busSubscription struct {
	id string
	fn EventHandler
}

// EventBus fans events out to subscribers. Every subscriber sees every
// published event exactly once, in publish order, delivered from a single
// dispatch goroutine. Publish never blocks the caller; the queue is
// unbounded.
type EventBus struct {
	logger *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	subs   []busSubscription
	queue  []Event
	closed bool

	done chan struct{}
}

// NewEventBus creates a bus and starts its dispatch goroutine.
func NewEventBus(log *logger.Logger) *EventBus {
	b := &EventBus{
		logger: log,
		done:   make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	go b.dispatch()
	return b
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *EventBus) Subscribe(fn EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := models.GenerateMessageID()
	b.subs = append(b.subs, busSubscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i := range b.subs {
			if b.subs[i].id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

// Publish enqueues an event for delivery. Publishing after Close drops the
// event with a warning rather than panicking.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn("event dropped, bus closed",
			logger.String("event", string(ev.Type)),
		)
		return
	}

	b.queue = append(b.queue, ev)
	b.cond.Signal()
}

// Close stops the bus after delivering everything already queued.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()

	<-b.done
}

func (b *EventBus) dispatch() {
	defer close(b.done)

	b.mu.Lock()
	for {
		for len(b.queue) == 0 {
			if b.closed {
				b.mu.Unlock()
				return
			}
			b.cond.Wait()
		}

		ev := b.queue[0]
		b.queue = b.queue[1:]

		subs := make([]busSubscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, sub := range subs {
			sub.fn(ev)
		}

		b.mu.Lock()
	}
}
