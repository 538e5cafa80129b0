// Package bus fans out engine events to any number of subscribers without
// ever blocking the publisher.
package bus

import (
	"crypto/rand"
	"paper-trading-sim/internal/models"
	"sync"
	"sync/atomic"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Subscription is one receiver's bounded event queue.
type Subscription struct {
	id     string
	ch     chan models.Event
	mu     sync.Mutex
	closed bool
	drops  atomic.Int64
}

// ID returns the subscription handle.
func (s *Subscription) ID() string { return s.id }

// C returns the receive side of the queue. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan models.Event { return s.ch }

// Dropped reports how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.drops.Load() }

// offer enqueues ev, discarding the oldest queued event when full.
// It returns false once the subscription has been closed.
func (s *Subscription) offer(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return true
		default:
		}
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is a broadcast event bus. Per-subscriber order equals publish order.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int
	published atomic.Int64
	logger    *zap.Logger
}

// New creates a Bus whose subscribers each buffer up to queueSize events.
func New(queueSize int, logger *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Bus{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a new receiver. initial events (e.g. hello) are queued
// before any later publish can reach it.
func (b *Bus) Subscribe(initial ...models.Event) *Subscription {
	sub := &Subscription{
		id: newID(),
		ch: make(chan models.Event, b.queueSize),
	}
	for _, ev := range initial {
		sub.offer(ev)
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", zap.String("id", sub.id), zap.Int("subscribers", n))
	return sub
}

// Unsubscribe removes and closes the subscription. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	n := len(b.subs)
	b.mu.Unlock()

	sub.close()
	b.logger.Debug("subscriber removed", zap.String("id", sub.id), zap.Int("subscribers", n), zap.Int64("dropped", sub.Dropped()))
}

// Publish delivers ev to every subscriber. It never blocks.
func (b *Bus) Publish(ev models.Event) {
	b.published.Add(1)

	var stale []string
	b.mu.RLock()
	for id, sub := range b.subs {
		if !sub.offer(ev) {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	if len(stale) > 0 {
		b.mu.Lock()
		for _, id := range stale {
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the total number of events published.
func (b *Bus) Published() int64 { return b.published.Load() }

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func newID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return base62.EncodeToString(buf)
}
