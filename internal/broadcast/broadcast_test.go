package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRoom(t *testing.T) {
	cases := map[string]bool{
		"queue:7b1c":       true,
		"user:42":          true,
		"conversation:abc": true,
		"queue:":           false,
		"ticket:1":         false,
		"user:has space":   false,
		"":                 false,
		"queue":            false,
	}
	for room, want := range cases {
		assert.Equal(t, want, ValidRoom(room), room)
	}
	assert.Equal(t, "queue:q1", QueueRoom("q1"))
	assert.Equal(t, "user:u1", UserRoom("u1"))
	assert.Equal(t, "conversation:c1", ConversationRoom("c1"))
}

func TestMessageTargetsAndValidate(t *testing.T) {
	msg := Message{Room: "queue:a", Rooms: []string{"user:b", "queue:a", ""}, Event: EventQueueJoined}
	assert.Equal(t, []string{"queue:a", "user:b"}, msg.Targets())
	assert.NoError(t, msg.Validate())

	assert.Error(t, Message{Room: "queue:a"}.Validate())
	assert.Error(t, Message{Event: EventQueueJoined}.Validate())
	assert.Error(t, Message{Room: "bogus", Event: EventQueueJoined}.Validate())
}

func TestHTTPPublisher(t *testing.T) {
	var got Message
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/publish", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	publisher := NewHTTPPublisher(server.URL+"/", "publish-token", time.Second)
	err := publisher.Publish(context.Background(), Message{Room: "queue:q1", Event: EventQueueAdvanced, Data: json.RawMessage(`{"snapshot":{}}`)})
	require.NoError(t, err)
	assert.Equal(t, "Bearer publish-token", auth)
	assert.Equal(t, "queue:q1", got.Room)
	assert.Equal(t, EventQueueAdvanced, got.Event)
}

func TestHTTPPublisherRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := NewHTTPPublisher(server.URL, "", time.Second).Publish(context.Background(), Message{Room: "user:u", Event: EventNotificationNew})
	assert.Error(t, err)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) snapshot() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

func TestDispatcherKeepsPerRoomOrder(t *testing.T) {
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(publisher, 4, 100, time.Second)

	for i := 0; i < 50; i++ {
		dispatcher.Broadcast(context.Background(), EventQueueAdvanced, map[string]int{"seq": i}, QueueRoom("q1"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = dispatcher.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(publisher.snapshot()) == 50 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	for i, msg := range publisher.snapshot() {
		var payload map[string]int
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, i, payload["seq"])
		assert.Equal(t, "queue:q1", msg.Room)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	dispatcher := NewDispatcher(&recordingPublisher{}, 1, 2, time.Second)

	assert.True(t, dispatcher.Enqueue(context.Background(), Message{Room: "queue:q", Event: EventQueueJoined}))
	assert.True(t, dispatcher.Enqueue(context.Background(), Message{Room: "queue:q", Event: EventQueueJoined}))
	assert.False(t, dispatcher.Enqueue(context.Background(), Message{Room: "queue:q", Event: EventQueueJoined}))
	assert.False(t, dispatcher.Enqueue(context.Background(), Message{Event: EventQueueJoined}))
}

func TestDispatcherSwallowsPublishErrors(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("connection refused")}
	dispatcher := NewDispatcher(publisher, 1, 4, time.Second)

	requestCtx, cancelRequest := context.WithCancel(context.Background())
	dispatcher.Broadcast(requestCtx, EventNotificationNew, map[string]string{"id": "n1"}, UserRoom("u1"))
	cancelRequest()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, dispatcher.Run(ctx))
	assert.Len(t, publisher.snapshot(), 1)
}
