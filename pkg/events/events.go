package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventCycleStarted   EventType = "cycle.started"
	EventStageChanged   EventType = "stage.changed"
	EventCycleCompleted EventType = "cycle.completed"
	EventFaultRecorded  EventType = "fault.recorded"
	EventRepairRecorded EventType = "repair.recorded"
	EventHostsUpdated   EventType = "hosts.updated"
)

const (
	queueSize      = 100
	subscriberSize = 50
)

// Event is one notification from the repair engine
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string

	// CycleID ties the event to one repair cycle
	CycleID string

	// Stage and Percent are set on stage.changed
	Stage   string
	Percent int

	Metadata map[string]string
}

// Subscriber receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Publishing never blocks the
// caller: events are dropped when the queue or a subscriber is full.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber][]EventType

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates a broker. Call Start to begin delivery.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber][]EventType),
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins delivering queued events
func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given
func (b *Broker) Subscribe(only ...EventType) Subscriber {
	sub := make(Subscriber, subscriberSize)

	b.mu.Lock()
	b.subscribers[sub] = only
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes it
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a queue was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Publish queues event for delivery and stamps it if needed
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, only := range b.subscribers {
		if len(only) > 0 && !slices.Contains(only, event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}
