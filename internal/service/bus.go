package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/events"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber channel capacity.
	DefaultSubscriberBuffer = 64
	// DefaultHeartbeatInterval paces the liveness events published to
	// idle streams.
	DefaultHeartbeatInterval = 15 * time.Second

	// dropWarnInterval rate-limits the slow-subscriber warning.
	dropWarnInterval = 10 * time.Second
)

// busSubscriber is the bus-side state of one subscription.
type busSubscriber struct {
	ch      chan events.Event
	dropped atomic.Int64
}

// Subscription is one live attachment to the bus. The Events channel is
// closed when the subscription is closed or the bus shuts down.
type Subscription struct {
	sub    *busSubscriber
	cancel func()
	once   sync.Once
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan events.Event {
	return s.sub.ch
}

// Dropped returns how many events were discarded because this
// subscriber's buffer was full at publish time.
func (s *Subscription) Dropped() int64 {
	return s.sub.dropped.Load()
}

// Close detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Bus fans evaluated-action events out to an arbitrary number of
// subscribers. Publishing never blocks: a subscriber whose buffer is
// full misses the event and its drop counter is incremented. Order is
// preserved per subscriber for every event that is delivered.
type Bus struct {
	logger    *slog.Logger
	now       Clock
	bufSize   int
	heartbeat time.Duration

	mu     sync.RWMutex
	subs   map[int64]*busSubscriber
	nextID int64
	closed bool

	totalDropped atomic.Int64
	lastDropWarn atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period. Zero or negative
// disables heartbeats.
func WithHeartbeatInterval(d time.Duration) BusOption {
	return func(b *Bus) {
		b.heartbeat = d
	}
}

// WithBusClock injects the time source for event timestamps.
func WithBusClock(now Clock) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates a Bus. Call Start to begin heartbeats and Stop to shut
// the bus down and close every subscriber channel.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:    logger,
		now:       time.Now,
		bufSize:   DefaultSubscriberBuffer,
		heartbeat: DefaultHeartbeatInterval,
		subs:      make(map[int64]*busSubscriber),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the heartbeat loop. It returns immediately; the loop
// runs until ctx is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	if b.heartbeat <= 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-ticker.C:
				b.Publish(events.New(events.KindHeartbeat, b.now()))
			}
		}
	}()
}

// Stop shuts the bus down: the heartbeat loop exits, every subscriber
// channel is closed, and later publishes become no-ops.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detached := b.subs
	b.subs = make(map[int64]*busSubscriber)
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	// No publisher can hold a reference to these channels anymore: the
	// subscriber map was swapped out under the write lock and Publish
	// checks closed under the read lock.
	for _, s := range detached {
		close(s.ch)
	}
}

// Subscribe attaches a new subscriber and seeds its buffer with a
// connected event. On a stopped bus the returned subscription's channel
// is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &busSubscriber{ch: make(chan events.Event, b.bufSize)}
	if b.closed {
		close(sub.ch)
		return &Subscription{sub: sub, cancel: func() {}}
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	// The buffer is fresh, the seed always fits.
	sub.ch <- events.New(events.KindConnected, b.now())

	return &Subscription{sub: sub, cancel: func() { b.unsubscribe(id) }}
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	// Closing under the write lock excludes concurrent publishers, which
	// send under the read lock.
	close(sub.ch)
}

// Publish delivers the event to every subscriber whose buffer has room.
// Saturated subscribers miss the event; their drop counters and the bus
// total are incremented instead.
func (b *Bus) Publish(ev events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.totalDropped.Add(1)
			b.warnDropped()
		}
	}
}

// warnDropped logs at most once per dropWarnInterval.
func (b *Bus) warnDropped() {
	now := time.Now().UnixNano()
	last := b.lastDropWarn.Load()
	if now-last < int64(dropWarnInterval) {
		return
	}
	if !b.lastDropWarn.CompareAndSwap(last, now) {
		return
	}
	b.logger.Warn("event bus dropping events for slow subscriber",
		"total_dropped", b.totalDropped.Load(),
		"subscribers", len(b.subs),
	)
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// TotalDropped returns the number of events discarded across all
// subscribers since the bus was created.
func (b *Bus) TotalDropped() int64 {
	return b.totalDropped.Load()
}
