package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/models"
)

// Message is the publish envelope accepted by the realtime service. Either
// Room or Rooms (or both) name the targets.
type Message struct {
	Room  string          `json:"room,omitempty"`
	Rooms []string        `json:"rooms,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is what a subscriber receives for one room.
type Frame struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Targets returns the de-duplicated target rooms in publish order.
func (m Message) Targets() []string {
	seen := make(map[string]struct{}, len(m.Rooms)+1)
	targets := make([]string, 0, len(m.Rooms)+1)
	add := func(room string) {
		if room == "" {
			return
		}
		if _, ok := seen[room]; ok {
			return
		}
		seen[room] = struct{}{}
		targets = append(targets, room)
	}
	add(m.Room)
	for _, room := range m.Rooms {
		add(room)
	}
	return targets
}

func (m Message) Validate() error {
	if m.Event == "" {
		return errors.New("event is required")
	}
	targets := m.Targets()
	if len(targets) == 0 {
		return errors.New("room or rooms is required")
	}
	for _, room := range targets {
		if !ValidRoom(room) {
			return fmt.Errorf("invalid room %q", room)
		}
	}
	return nil
}

type QueueJoinedPayload struct {
	ReservationID string          `json:"reservation_id"`
	QueueNumber   int             `json:"queue_number"`
	ClientID      string          `json:"client_id"`
	Snapshot      models.Snapshot `json:"snapshot"`
}

type QueueAdvancedPayload struct {
	Snapshot models.Snapshot `json:"snapshot"`
}

type QueueUpdatedPayload struct {
	Queue models.Queue `json:"queue"`
}
