package relay

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu       sync.Mutex
	messages []broadcast.Message
}

func (r *recordingTarget) Publish(msg broadcast.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return 1
}

func (r *recordingTarget) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]string, 0, len(r.messages))
	for _, msg := range r.messages {
		events = append(events, msg.Event)
	}
	return events
}

func TestLocalDeliversDirectly(t *testing.T) {
	target := &recordingTarget{}
	require.NoError(t, NewLocal(target).Publish(context.Background(), broadcast.Message{Room: "queue:q1", Event: "queue:advanced"}))
	assert.Equal(t, []string{"queue:advanced"}, target.events())
}

func TestRedisRelayRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	target := &recordingTarget{}
	channel := "afriqueue:test:" + t.Name()
	relay := NewRedis(client, channel, target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && n[channel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Publish(context.Background(), channel, "garbage").Err())
	for _, event := range []string{"first", "second"} {
		require.NoError(t, relay.Publish(context.Background(), broadcast.Message{Room: "queue:q1", Event: event}))
	}

	require.Eventually(t, func() bool { return len(target.events()) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, target.events())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
