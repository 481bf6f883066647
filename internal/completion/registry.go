package completion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendwell/companion/internal/events"
)

const DefaultIdleTTL = 30 * time.Minute

// minEvictInterval bounds how often Run scans for idle contexts.
const minEvictInterval = time.Second

var ErrContextNotFound = errors.New("context not found")

// Registry hosts the coordinators of live client contexts. Each context is
// owned by one user and bound to that user's bus slot.
type Registry struct {
	broker  events.Broker
	opts    Options
	idleTTL time.Duration

	mu       sync.Mutex
	contexts map[string]*hostedContext
}

type hostedContext struct {
	userID      string
	coordinator *Coordinator
	lastSeen    time.Time
}

func NewRegistry(broker events.Broker, idleTTL time.Duration, opts Options) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		broker:   broker,
		opts:     opts.withDefaults(),
		idleTTL:  idleTTL,
		contexts: make(map[string]*hostedContext),
	}
}

// Open creates a new context for userID and returns its id.
func (r *Registry) Open(ctx context.Context, userID string) (string, *Coordinator, error) {
	contextID := uuid.New().String()

	coordinator, err := NewCoordinator(ctx, r.broker.Bus(userID, contextID), r.opts)
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	r.contexts[contextID] = &hostedContext{
		userID:      userID,
		coordinator: coordinator,
		lastSeen:    r.opts.Now(),
	}
	r.mu.Unlock()

	slog.Debug("completion context opened", "context_id", contextID, "user_id", userID)
	return contextID, coordinator, nil
}

// Get returns the context's coordinator and marks the context as used. A
// context owned by another user is reported as ErrContextNotFound.
func (r *Registry) Get(userID, contextID string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosted, ok := r.contexts[contextID]
	if !ok || hosted.userID != userID {
		return nil, ErrContextNotFound
	}
	hosted.lastSeen = r.opts.Now()
	return hosted.coordinator, nil
}

func (r *Registry) Close(userID, contextID string) error {
	r.mu.Lock()
	hosted, ok := r.contexts[contextID]
	if !ok || hosted.userID != userID {
		r.mu.Unlock()
		return ErrContextNotFound
	}
	delete(r.contexts, contextID)
	r.mu.Unlock()

	hosted.coordinator.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Run evicts idle contexts until ctx is cancelled, then closes every
// remaining context.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(max(r.idleTTL/2, minEvictInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			evicted := r.evictIdle(r.opts.Now())
			if evicted > 0 {
				slog.Info("evicted idle completion contexts", "count", evicted)
			}
		}
	}
}

func (r *Registry) evictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*hostedContext
	for id, hosted := range r.contexts {
		if hosted.lastSeen.Before(cutoff) {
			idle = append(idle, hosted)
			delete(r.contexts, id)
		}
	}
	r.mu.Unlock()

	for _, hosted := range idle {
		hosted.coordinator.Close()
	}
	return len(idle)
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.contexts
	r.contexts = make(map[string]*hostedContext)
	r.mu.Unlock()

	for _, hosted := range all {
		hosted.coordinator.Close()
	}
}
