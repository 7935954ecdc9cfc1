package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// NewRedisClient connects to REDIS_URL (redis://[:password@]host:port/db) and
// verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisRelay fans envelopes out to every server instance over a Redis pub/sub
// channel. Each instance, this one included, delivers what it receives to its
// own Registry, so a practitioner connected to any instance gets the event.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Registry
	log     zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local *Registry, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.With().Str("component", "ws_relay").Str("channel", channel).Logger(),
	}
}

// Publish puts env on the relay channel.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the relay channel and delivers envelopes locally until
// ctx is cancelled. ready, if non-nil, is closed once the subscription is
// confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn().Err(err).Msg("discarding malformed envelope")
		return
	}
	if len(env.Payload) == 0 {
		r.log.Warn().Msg("discarding envelope without payload")
		return
	}
	r.local.Publish(context.Background(), env)
}

// Ping reports whether Redis is reachable.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
