package hub

import (
	"encoding/json"
	"testing"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(h *Hub, id string, buffer int) *Client {
	client := &Client{ID: id, Send: make(chan []byte, buffer)}
	h.Register(client)
	return client
}

func readFrame(t *testing.T, client *Client) broadcast.Frame {
	t.Helper()
	select {
	case raw := <-client.Send:
		var frame broadcast.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	default:
		t.Fatalf("no frame queued for %s", client.ID)
		return broadcast.Frame{}
	}
}

func TestPublishReachesRoomMembersOnly(t *testing.T) {
	h := New()
	a := newClient(h, "a", 4)
	b := newClient(h, "b", 4)
	require.NoError(t, h.Join(a, "queue:q1"))
	require.NoError(t, h.Join(b, "queue:q2"))

	n := h.Publish(broadcast.Message{Room: "queue:q1", Event: broadcast.EventQueueAdvanced, Data: json.RawMessage(`{"count":0}`)})
	assert.Equal(t, 1, n)

	frame := readFrame(t, a)
	assert.Equal(t, "queue:q1", frame.Room)
	assert.Equal(t, broadcast.EventQueueAdvanced, frame.Event)
	assert.JSONEq(t, `{"count":0}`, string(frame.Data))
	assert.Empty(t, b.Send)
}

func TestPublishDeduplicatesAcrossRooms(t *testing.T) {
	h := New()
	a := newClient(h, "a", 4)
	require.NoError(t, h.Join(a, "queue:q1"))
	require.NoError(t, h.Join(a, "user:u1"))

	n := h.Publish(broadcast.Message{Rooms: []string{"queue:q1", "user:u1"}, Event: broadcast.EventQueueJoined})
	assert.Equal(t, 1, n)
	assert.Equal(t, "queue:q1", readFrame(t, a).Room)
	assert.Empty(t, a.Send)
}

func TestPublishKeepsOrderPerRoom(t *testing.T) {
	h := New()
	a := newClient(h, "a", 8)
	require.NoError(t, h.Join(a, "queue:q1"))

	for _, event := range []string{"first", "second", "third"} {
		h.Publish(broadcast.Message{Room: "queue:q1", Event: event})
	}
	assert.Equal(t, "first", readFrame(t, a).Event)
	assert.Equal(t, "second", readFrame(t, a).Event)
	assert.Equal(t, "third", readFrame(t, a).Event)
}

func TestSlowClientDropsWithoutBlocking(t *testing.T) {
	h := New()
	slow := newClient(h, "slow", 1)
	fast := newClient(h, "fast", 4)
	require.NoError(t, h.Join(slow, "queue:q1"))
	require.NoError(t, h.Join(fast, "queue:q1"))

	h.Publish(broadcast.Message{Room: "queue:q1", Event: "one"})
	n := h.Publish(broadcast.Message{Room: "queue:q1", Event: "two"})
	assert.Equal(t, 1, n)
	assert.Len(t, slow.Send, 1)
	assert.Len(t, fast.Send, 2)
}

func TestLeaveAndUnregister(t *testing.T) {
	h := New()
	a := newClient(h, "a", 4)
	require.NoError(t, h.Join(a, "queue:q1"))
	require.NoError(t, h.Join(a, "user:u1"))
	assert.ElementsMatch(t, []string{"queue:q1", "user:u1"}, h.Rooms(a))

	h.Leave(a, "queue:q1")
	assert.Zero(t, h.RoomSize("queue:q1"))
	assert.Equal(t, 1, h.RoomSize("user:u1"))

	h.Unregister(a)
	assert.Zero(t, h.RoomSize("user:u1"))
	_, open := <-a.Send
	assert.False(t, open)

	h.Unregister(a)
	assert.ErrorIs(t, h.Join(a, "queue:q1"), ErrInvalidCommand)
}

func TestApplyCommands(t *testing.T) {
	h := New()
	a := newClient(h, "a", 4)

	cmd, err := h.Apply(a, []byte(`{"action":"join","room":"queue:q1"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionJoin, cmd.Action)
	assert.Equal(t, 1, h.RoomSize("queue:q1"))

	_, err = h.Apply(a, []byte(`{"action":"leave","room":"queue:q1"}`))
	require.NoError(t, err)
	assert.Zero(t, h.RoomSize("queue:q1"))

	for _, raw := range []string{
		`not json`,
		`{"action":"subscribe","room":"queue:q1"}`,
		`{"action":"join","room":"lobby"}`,
		`{"action":"join","room":"queue:"}`,
	} {
		_, err := h.Apply(a, []byte(raw))
		assert.ErrorIs(t, err, ErrInvalidCommand, raw)
	}
}
