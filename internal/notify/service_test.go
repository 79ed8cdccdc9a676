package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	event string
	data  interface{}
	rooms []string
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recorder) Broadcast(_ context.Context, event string, data interface{}, rooms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{event: event, data: data, rooms: rooms})
}

func TestNotifyStoresAndPublishes(t *testing.T) {
	st := memory.New()
	rec := &recorder{}
	svc := NewService(st, rec)

	id, err := svc.Notify(context.Background(), "client-1", models.NotificationQueueJoined, "reservation-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, rec.events, 1)
	assert.Equal(t, broadcast.EventNotificationNew, rec.events[0].event)
	assert.Equal(t, []string{"user:client-1"}, rec.events[0].rooms)
	sent, ok := rec.events[0].data.(models.Notification)
	require.True(t, ok)
	assert.Equal(t, id, sent.NotificationID)

	listed, err := svc.List(context.Background(), "client-1", true)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "reservation-1", listed[0].ReferenceID)
}

func TestNotifyStoreFailureIsUnavailable(t *testing.T) {
	st := memory.New()
	st.SetFailure(errors.New("connection reset"))
	rec := &recorder{}

	_, err := NewService(st, rec).Notify(context.Background(), "client-1", models.NotificationQueueCompleted, "r")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, rec.events)
}

func TestMarkRead(t *testing.T) {
	st := memory.New()
	svc := NewService(st, &recorder{})

	id, err := svc.Notify(context.Background(), "client-1", models.NotificationQueueJoined, "r")
	require.NoError(t, err)

	_, err = svc.MarkRead(context.Background(), "someone-else", id)
	assert.ErrorIs(t, err, store.ErrNotificationNotFound)

	read, err := svc.MarkRead(context.Background(), "client-1", id)
	require.NoError(t, err)
	assert.NotNil(t, read.ReadAt)

	unread, err := svc.List(context.Background(), "client-1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
