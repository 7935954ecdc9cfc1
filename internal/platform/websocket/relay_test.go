package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupRelay(t *testing.T) (*RedisRelay, *Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := NewRegistry(zerolog.Nop())
	relay := NewRedisRelay(client, "test:specialists", reg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, ready) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("relay exited before subscribing: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return relay, reg
}

func TestRedisRelay_TargetedDelivery(t *testing.T) {
	relay, reg := setupRelay(t)
	s1, s2 := uuid.New(), uuid.New()
	c1, _ := newTestClient(4)
	c2, _ := newTestClient(4)
	reg.Register(s1, c1)
	reg.Register(s2, c2)

	env, err := NewTargetedEnvelope(s1, map[string]string{"type": "teleconsultation_accepted"})
	require.NoError(t, err)
	require.NoError(t, relay.Publish(context.Background(), env))

	msg := receive(t, c1)
	require.Equal(t, "teleconsultation_accepted", msg["type"])
	assertNothing(t, c2)
}

func TestRedisRelay_BroadcastHonoursExclude(t *testing.T) {
	relay, reg := setupRelay(t)
	s1, s2 := uuid.New(), uuid.New()
	c1, _ := newTestClient(4)
	c2, _ := newTestClient(4)
	reg.Register(s1, c1)
	reg.Register(s2, c2)

	env, err := NewBroadcastEnvelope(map[string]string{"type": "teleconsultation_request"}, &s2)
	require.NoError(t, err)
	require.NoError(t, relay.Publish(context.Background(), env))

	msg := receive(t, c1)
	require.Equal(t, "teleconsultation_request", msg["type"])
	assertNothing(t, c2)
}

func TestRedisRelay_DeliverIgnoresMalformed(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	relay := NewRedisRelay(nil, "unused", reg, zerolog.Nop())
	s1 := uuid.New()
	c1, _ := newTestClient(4)
	reg.Register(s1, c1)

	relay.deliver([]byte("{not json"))
	relay.deliver([]byte(`{"recipient":"` + s1.String() + `"}`))

	assertNothing(t, c1)
	require.Equal(t, 1, reg.ConnectionCount(s1))
}

func TestRedisRelay_Ping(t *testing.T) {
	relay, _ := setupRelay(t)
	require.NoError(t, relay.Ping(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), "not a url")
	require.Error(t, err)
}
