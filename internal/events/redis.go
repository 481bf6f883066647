package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendwell/companion/internal/model"
)

const (
	fieldNotice = "notice"
	fieldOrigin = "origin"
)

// RedisBroker stores each user's slot as a hash holding the serialised
// notice and the id of the context that wrote it. Writers publish their
// context id on a change channel; observers re-read the hash when signalled.
type RedisBroker struct {
	client *redis.Client
	opts   options
}

func NewRedisBroker(redisURL string, opts ...Option) (*RedisBroker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBrokerWithClient(client, opts...), nil
}

func NewRedisBrokerWithClient(client *redis.Client, opts ...Option) *RedisBroker {
	return &RedisBroker{
		client: client,
		opts:   applyOptions(opts),
	}
}

func (b *RedisBroker) Bus(userID, contextID string) Bus {
	key := b.opts.keyPrefix + userID
	return &redisBus{
		broker:    b,
		key:       key,
		channel:   key + ":changed",
		contextID: contextID,
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type redisBus struct {
	broker    *RedisBroker
	key       string
	channel   string
	contextID string
}

func (r *redisBus) Publish(ctx context.Context, notice model.CompletionNotice) error {
	payload, err := Encode(notice, r.broker.opts.now())
	if err != nil {
		return err
	}

	pipe := r.broker.client.Pipeline()
	pipe.HSet(ctx, r.key, fieldNotice, payload, fieldOrigin, r.contextID)
	if ttl := r.broker.opts.slotTTL; ttl > 0 {
		pipe.Expire(ctx, r.key, ttl)
	}
	pipe.Publish(ctx, r.channel, r.contextID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("publish completion notice: %w", err)
	}
	return nil
}

func (r *redisBus) Subscribe(ctx context.Context, fn Handler) (func(), error) {
	ps := r.broker.client.Subscribe(ctx, r.channel)

	// Wait for the subscription to be confirmed so that no write issued
	// after Subscribe returns can be missed.
	_, err := ps.Receive(ctx)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to completion notices: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	go r.watch(readCtx, ps.Channel(), fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			err := ps.Close()
			if err != nil {
				slog.Warn("failed to close completion subscription", "error", err, "key", r.key)
			}
		})
	}, nil
}

func (r *redisBus) watch(ctx context.Context, messages <-chan *redis.Message, fn Handler) {
	for msg := range messages {
		if msg.Payload == r.contextID {
			continue
		}

		slot, err := r.broker.client.HGetAll(ctx, r.key).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("failed to read completion slot", "error", err, "key", r.key)
			}
			continue
		}
		if slot[fieldOrigin] == r.contextID || slot[fieldNotice] == "" {
			continue
		}

		env, err := Decode([]byte(slot[fieldNotice]))
		if err != nil {
			slog.Warn("dropping unreadable completion notice", "error", err, "key", r.key)
			continue
		}
		fn(env)
	}
}
