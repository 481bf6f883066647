// Package events carries goal completion notices between independent client
// contexts. A bus is a single last-write-wins slot per user: observers read
// whatever the slot holds when they are signalled, so a slow observer can
// skip intermediate notices. A context never observes its own writes.
package events

import (
	"context"
	"time"

	"github.com/tendwell/companion/internal/model"
)

const (
	DefaultKeyPrefix = "goal-completion:"
	DefaultSlotTTL   = 24 * time.Hour
)

// Envelope is a notice as observed on the bus, stamped with the wall clock of
// the publishing context.
type Envelope struct {
	Notice      model.CompletionNotice
	PublishedAt time.Time
}

type Handler func(Envelope)

// Bus is the capability a single context uses to talk to its user's slot.
type Bus interface {
	Publish(ctx context.Context, notice model.CompletionNotice) error
	// Subscribe registers fn for changes written by other contexts. fn runs
	// on a broker goroutine. The returned func stops delivery.
	Subscribe(ctx context.Context, fn Handler) (unsubscribe func(), err error)
}

// Broker hands out buses bound to a user's slot and a context identity.
type Broker interface {
	Bus(userID, contextID string) Bus
	Close() error
}

type Option func(*options)

type options struct {
	now       func() time.Time
	slotTTL   time.Duration
	keyPrefix string
}

func defaultOptions() options {
	return options{
		now:       time.Now,
		slotTTL:   DefaultSlotTTL,
		keyPrefix: DefaultKeyPrefix,
	}
}

// WithClock overrides the clock used to stamp published notices.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSlotTTL sets how long a written notice stays readable in its slot.
// Zero keeps it until the next write.
func WithSlotTTL(ttl time.Duration) Option {
	return func(o *options) { o.slotTTL = ttl }
}

func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
