// Package completion tracks goal completions for one client context and keeps
// it consistent with the user's other contexts through an events.Bus.
package completion

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tendwell/companion/internal/events"
	"github.com/tendwell/companion/internal/model"
)

// DefaultFreshness is how old a remote notice may be, measured from its
// publish time, before an observer ignores it.
const DefaultFreshness = 5 * time.Second

type Options struct {
	Freshness time.Duration
	// Location buckets completions into calendar days. Nil means time.Local.
	Location *time.Location
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Freshness <= 0 {
		o.Freshness = DefaultFreshness
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// State is a point-in-time copy of a coordinator's state.
type State struct {
	CompletedGoals      []model.CompletionNotice `json:"completedGoals"`
	NewlyCompletedGoals []string                 `json:"newlyCompletedGoals"`
}

// Coordinator holds one context's completion history and the set of goals
// whose celebration has not been viewed yet. Local triggers are published to
// the bus; notices from other contexts are merged in as they are observed.
type Coordinator struct {
	bus  events.Bus
	opts Options

	mu           sync.Mutex
	completed    []model.CompletionNotice
	celebrating  map[string]struct{}
	listeners    map[int]func()
	nextListener int
	unsubscribe  func()
	done         chan struct{}
	closed       bool
}

// NewCoordinator subscribes to bus and returns a coordinator with empty state.
func NewCoordinator(ctx context.Context, bus events.Bus, opts Options) (*Coordinator, error) {
	c := &Coordinator{
		bus:         bus,
		opts:        opts.withDefaults(),
		celebrating: make(map[string]struct{}),
		listeners:   make(map[int]func()),
		done:        make(chan struct{}),
	}

	unsubscribe, err := bus.Subscribe(ctx, c.handleNotice)
	if err != nil {
		return nil, err
	}
	c.unsubscribe = unsubscribe

	return c, nil
}

// TriggerGoalCompletion records a local completion, starts its celebration
// and announces it to the other contexts. A goal that is already celebrating
// is ignored. Local state is updated even when publishing fails.
func (c *Coordinator) TriggerGoalCompletion(ctx context.Context, goalID, goalTitle string) error {
	c.mu.Lock()
	if _, ok := c.celebrating[goalID]; ok {
		c.mu.Unlock()
		return nil
	}

	notice := model.NewCompletionNotice(goalID, goalTitle, c.opts.Now(), c.opts.Location)
	c.completed = append(c.completed, notice)
	c.celebrating[goalID] = struct{}{}
	c.mu.Unlock()

	c.notify()
	return c.bus.Publish(ctx, notice)
}

// TriggerGoalUncompletion forgets every completion of the goal in this
// context. Other contexts are not told.
func (c *Coordinator) TriggerGoalUncompletion(goalID string) {
	c.mu.Lock()
	c.completed = slices.DeleteFunc(c.completed, func(n model.CompletionNotice) bool {
		return n.GoalID == goalID
	})
	delete(c.celebrating, goalID)
	c.mu.Unlock()

	c.notify()
}

// MarkGoalCelebrationViewed ends the goal's celebration but keeps its history.
func (c *Coordinator) MarkGoalCelebrationViewed(goalID string) {
	c.mu.Lock()
	delete(c.celebrating, goalID)
	c.mu.Unlock()

	c.notify()
}

func (c *Coordinator) ClearAllCelebrations() {
	c.mu.Lock()
	clear(c.celebrating)
	c.mu.Unlock()

	c.notify()
}

// GoalsCompletedOnDate returns the recorded completions whose date key
// equals dateKey, in the order they were recorded.
func (c *Coordinator) GoalsCompletedOnDate(dateKey string) []model.CompletionNotice {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.CompletionNotice
	for _, n := range c.completed {
		if n.DateKey == dateKey {
			out = append(out, n)
		}
	}
	return out
}

// DateKey returns the calendar day key for t in this coordinator's location.
func (c *Coordinator) DateKey(t time.Time) string {
	return model.DateKey(t, c.opts.Location)
}

func (c *Coordinator) Today() string {
	return c.DateKey(c.opts.Now())
}

func (c *Coordinator) IsCelebrating(goalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.celebrating[goalID]
	return ok
}

func (c *Coordinator) CompletedGoals() []model.CompletionNotice {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.completed)
}

// Celebrating returns the celebrating goal ids in sorted order.
func (c *Coordinator) Celebrating() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Sorted(maps.Keys(c.celebrating))
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	completed := slices.Clone(c.completed)
	if completed == nil {
		completed = []model.CompletionNotice{}
	}
	return State{
		CompletedGoals:      completed,
		NewlyCompletedGoals: slices.Sorted(maps.Keys(c.celebrating)),
	}
}

// OnChange registers fn to run after every state change. fn must not block.
func (c *Coordinator) OnChange(fn func()) (remove func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Done is closed once the coordinator has been closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Close stops observing the bus. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	close(c.done)
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// handleNotice merges a notice written by another context. Stale notices
// and notices this context already knows about are dropped.
func (c *Coordinator) handleNotice(env events.Envelope) {
	age := c.opts.Now().Sub(env.PublishedAt)
	if age > c.opts.Freshness {
		slog.Debug("dropping stale completion notice", "goal_id", env.Notice.GoalID, "age_ms", age.Milliseconds())
		return
	}

	n := env.Notice
	c.mu.Lock()
	if _, ok := c.celebrating[n.GoalID]; ok || c.hasRecordLocked(n) {
		c.mu.Unlock()
		return
	}
	c.completed = append(c.completed, n)
	c.celebrating[n.GoalID] = struct{}{}
	c.mu.Unlock()

	c.notify()
}

func (c *Coordinator) hasRecordLocked(n model.CompletionNotice) bool {
	return slices.ContainsFunc(c.completed, func(existing model.CompletionNotice) bool {
		return existing.GoalID == n.GoalID && existing.CompletedAt.Equal(n.CompletedAt)
	})
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	listeners := slices.Collect(maps.Values(c.listeners))
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
