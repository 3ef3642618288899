package events

import (
	"log/slog"
	"sync"

	"qms/queue-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Filter selects the events a subscriber receives. Empty fields match
// everything.
type Filter struct {
	LocationID string
	OwnerID    string
	Types      []string
}

func (f Filter) match(event models.Event) bool {
	if f.LocationID != "" && event.LocationID != f.LocationID {
		return false
	}
	if f.OwnerID != "" && len(event.AffectedOwnerIDs) > 0 && !event.Affects(f.OwnerID) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

type Subscription struct {
	ID      string
	C       <-chan models.Event
	ch      chan models.Event
	filter  Filter
	dropped atomic.Uint64
	// backlog is set for lossless subscriptions.
	backlog *backlog
}

// Dropped reports how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Emitter fans committed events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event unless it subscribed
// with SubscribeReliable.
type Emitter struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	buffer    int
	published atomic.Uint64
	dropped   atomic.Uint64
	onDrop    func(eventType string)
	logger    *slog.Logger
}

func NewEmitter(buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// OnDrop registers a hook called for every dropped delivery.
func (e *Emitter) OnDrop(fn func(eventType string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDrop = fn
}

func (e *Emitter) Subscribe(filter Filter) *Subscription {
	ch := make(chan models.Event, e.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, filter: filter}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[sub.ID] = sub
	return sub
}

// SubscribeReliable returns a subscription that never drops events. Events
// the reader has not taken yet wait in an unbounded backlog. After
// Unsubscribe the backlog is still delivered before C closes, so the reader
// must drain C until it is closed.
func (e *Emitter) SubscribeReliable(filter Filter) *Subscription {
	ch := make(chan models.Event)
	b := &backlog{notify: make(chan struct{}, 1)}
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, filter: filter, backlog: b}
	go b.run(ch)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[sub.ID] = sub
	return sub
}

func (e *Emitter) Unsubscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub.ID]; !ok {
		return
	}
	delete(e.subs, sub.ID)
	if sub.backlog != nil {
		sub.backlog.close()
		return
	}
	close(sub.ch)
}

func (e *Emitter) UpdateFilter(sub *Subscription, filter Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub.filter = filter
}

func (e *Emitter) Publish(events []models.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, event := range events {
		e.published.Inc()
		for _, sub := range e.subs {
			if !sub.filter.match(event) {
				continue
			}
			if sub.backlog != nil {
				sub.backlog.push(event)
				continue
			}
			select {
			case sub.ch <- event:
			default:
				sub.dropped.Inc()
				e.dropped.Inc()
				if e.onDrop != nil {
					e.onDrop(event.Type)
				}
				e.logger.Warn("drop event for subscriber", "subscriber", sub.ID, "type", event.Type, "location_id", event.LocationID, "seq", event.Seq)
			}
		}
	}
}

func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Published:   e.published.Load(),
		Dropped:     e.dropped.Load(),
		Subscribers: len(e.subs),
	}
}

type backlog struct {
	mu     sync.Mutex
	events []models.Event
	closed bool
	notify chan struct{}
}

func (b *backlog) push(event models.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.events = append(b.events, event)
	b.mu.Unlock()
	b.signal()
}

func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

func (b *backlog) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// run moves queued events into out in order and closes out once the backlog
// is closed and empty.
func (b *backlog) run(out chan<- models.Event) {
	defer close(out)
	for {
		b.mu.Lock()
		batch, closed := b.events, b.closed
		b.events = nil
		b.mu.Unlock()
		for _, event := range batch {
			out <- event
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.notify
	}
}
