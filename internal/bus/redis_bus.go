package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"marketchat/internal/logger"
	"marketchat/internal/metrics"
	"marketchat/internal/types"
)

const DefaultChannel = "marketchat:events"

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	origin  string
}

// NewRedisBus connects to redisURL. origin identifies this instance; its
// own events are not delivered back to it.
func NewRedisBus(ctx context.Context, redisURL, origin string, log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("component", "BUS"),
		rdb:     rdb,
		channel: DefaultChannel,
		origin:  origin,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, env types.Envelope) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	env.Origin = b.origin
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	metrics.BusPublished.Inc()
	return nil
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(env types.Envelope)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
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
				env, err := decode([]byte(m.Payload), b.origin)
				if err != nil {
					b.log.Warn("bad bus payload", "error", err)
					continue
				}
				if env == nil {
					continue
				}
				onMsg(*env)
			}
		}
	}()
	return nil
}

// decode returns nil for events this instance published itself.
func decode(raw []byte, origin string) (*types.Envelope, error) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Origin == origin {
		return nil, nil
	}
	env.FromBus = true
	return &env, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
