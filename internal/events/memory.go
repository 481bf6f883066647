package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tendwell/companion/internal/model"
)

// MemoryBroker keeps slots in process memory. It suits a single server
// instance; use RedisBroker when contexts are spread over several processes.
// A slot lives only while some context is subscribed to it, and its value
// expires after the slot TTL.
type MemoryBroker struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
	opts  options
}

// memorySlot fields are guarded by MemoryBroker.mu.
type memorySlot struct {
	value     []byte
	origin    string
	expiresAt time.Time
	watchers  map[*memoryWatcher]struct{}
}

func (s *memorySlot) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// memoryWatcher coalesces change signals: a signal that arrives while one is
// pending is dropped, and the watcher reads the slot's latest value.
type memoryWatcher struct {
	slot      *memorySlot
	contextID string
	signal    chan struct{}
	done      chan struct{}
}

func NewMemoryBroker(opts ...Option) *MemoryBroker {
	return &MemoryBroker{
		slots: make(map[string]*memorySlot),
		opts:  applyOptions(opts),
	}
}

func (b *MemoryBroker) Bus(userID, contextID string) Bus {
	return &memoryBus{
		broker:    b,
		key:       b.opts.keyPrefix + userID,
		contextID: contextID,
	}
}

func (b *MemoryBroker) Close() error {
	return nil
}

func (b *MemoryBroker) slotCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

type memoryBus struct {
	broker    *MemoryBroker
	key       string
	contextID string
}

// Publish overwrites the slot. With nobody subscribed there is no slot and
// the notice is dropped.
func (m *memoryBus) Publish(ctx context.Context, notice model.CompletionNotice) error {
	now := m.broker.opts.now()
	payload, err := Encode(notice, now)
	if err != nil {
		return err
	}

	m.broker.mu.Lock()
	defer m.broker.mu.Unlock()

	slot, ok := m.broker.slots[m.key]
	if !ok {
		return nil
	}

	slot.value = payload
	slot.origin = m.contextID
	slot.expiresAt = time.Time{}
	if ttl := m.broker.opts.slotTTL; ttl > 0 {
		slot.expiresAt = now.Add(ttl)
	}

	for w := range slot.watchers {
		if w.contextID == m.contextID {
			continue
		}
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *memoryBus) Subscribe(ctx context.Context, fn Handler) (func(), error) {
	m.broker.mu.Lock()
	slot, ok := m.broker.slots[m.key]
	if !ok {
		slot = &memorySlot{watchers: make(map[*memoryWatcher]struct{})}
		m.broker.slots[m.key] = slot
	}
	w := &memoryWatcher{
		slot:      slot,
		contextID: m.contextID,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	slot.watchers[w] = struct{}{}
	m.broker.mu.Unlock()

	go m.watch(w, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.broker.mu.Lock()
			delete(slot.watchers, w)
			if len(slot.watchers) == 0 && m.broker.slots[m.key] == slot {
				delete(m.broker.slots, m.key)
			}
			m.broker.mu.Unlock()
			close(w.done)
		})
	}, nil
}

func (m *memoryBus) watch(w *memoryWatcher, fn Handler) {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}

		m.broker.mu.Lock()
		value, origin := w.slot.value, w.slot.origin
		expired := w.slot.expired(m.broker.opts.now())
		m.broker.mu.Unlock()

		if value == nil || origin == w.contextID || expired {
			continue
		}

		env, err := Decode(value)
		if err != nil {
			slog.Warn("dropping unreadable completion notice", "error", err, "key", m.key)
			continue
		}
		fn(env)
	}
}
