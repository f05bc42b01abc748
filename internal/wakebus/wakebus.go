// Package wakebus provides an optional Redis pub/sub channel the API
// publishes to whenever a job is enqueued, so the worker's poll loop can
// wake immediately instead of waiting for the next PollInterval tick. It is
// a pure latency optimization: the worker's poll loop is the correctness
// mechanism and the system is fully functional with wakebus disabled.
package wakebus

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-backend/internal/logger"
)

type Bus interface {
	// Wake notifies any listening worker that new work may be available.
	Wake(ctx context.Context) error
	// Listen invokes onWake every time a Wake is published, until ctx is done.
	Listen(ctx context.Context, onWake func()) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// New connects to addr and pings it once to fail fast on misconfiguration.
func New(log *logger.Logger, addr, channel string) (Bus, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("wakebus: addr required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "batchd:worker:wake"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("wakebus: redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("component", "wakebus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) Wake(ctx context.Context) error {
	return b.rdb.Publish(ctx, b.channel, "wake").Err()
}

func (b *redisBus) Listen(ctx context.Context, onWake func()) error {
	if onWake == nil {
		return fmt.Errorf("wakebus: onWake callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("wakebus: subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				onWake()
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}

// NoopBus is used when REDIS_ADDR is unset; Wake/Listen are no-ops so the
// worker simply relies on PollInterval.
type NoopBus struct{}

func (NoopBus) Wake(ctx context.Context) error                { return nil }
func (NoopBus) Listen(ctx context.Context, onWake func()) error { return nil }
func (NoopBus) Close() error                                    { return nil }
