// Package hub keeps the room membership of connected subscribers on one
// realtime node.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	ActionJoin  = "join"
	ActionLeave = "leave"
)

var ErrInvalidCommand = errors.New("invalid command")

type Client struct {
	ID     string
	UserID string
	Send   chan []byte
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	rooms       map[string]map[string]*Client
	memberships map[string]map[string]struct{}
}

// Command is a frame sent by a subscriber.
type Command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

func New() *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		memberships: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.memberships[client.ID] = make(map[string]struct{})
}

// Unregister removes the client from every room and closes its send channel.
// Calling it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	h.leaveAllLocked(client.ID)
	delete(h.clients, client.ID)
	delete(h.memberships, client.ID)
	close(client.Send)
}

func (h *Hub) Join(client *Client, room string) error {
	if !broadcast.ValidRoom(room) {
		return ErrInvalidCommand
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.memberships[client.ID]
	if !ok {
		return ErrInvalidCommand
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client
	joined[room] = struct{}{}
	return nil
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client.ID, room)
}

func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(client.ID)
}

func (h *Hub) leaveAllLocked(clientID string) {
	for room := range h.memberships[clientID] {
		h.leaveLocked(clientID, room)
	}
}

func (h *Hub) leaveLocked(clientID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[clientID]; ok {
		delete(joined, room)
	}
}

// Publish queues one frame per subscriber. A client subscribed to several
// target rooms receives the event once, tagged with the first matching room.
// Clients whose send buffer is full miss the event. It returns the number of
// clients the frame was queued for.
func (h *Hub) Publish(msg broadcast.Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	seen := make(map[string]struct{})
	for _, room := range msg.Targets() {
		members := h.rooms[room]
		if len(members) == 0 {
			continue
		}
		frame, err := json.Marshal(broadcast.Frame{Room: room, Event: msg.Event, Data: msg.Data})
		if err != nil {
			log.Error().Err(err).Str("room", room).Msg("encode frame")
			continue
		}
		for id, client := range members {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			select {
			case client.Send <- frame:
				delivered++
				metrics.RealtimeDelivered.Inc()
			default:
				metrics.RealtimeDropped.Inc()
				log.Warn().Str("client_id", client.ID).Str("room", room).Str("event", msg.Event).Msg("drop message for slow client")
			}
		}
	}
	return delivered
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Rooms(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.memberships[client.ID]))
	for room := range h.memberships[client.ID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Apply parses a subscriber frame and applies it.
func (h *Hub) Apply(client *Client, data []byte) (Command, error) {
	cmd, err := ParseCommand(data)
	if err != nil {
		return Command{}, err
	}
	switch cmd.Action {
	case ActionJoin:
		return cmd, h.Join(client, cmd.Room)
	default:
		h.Leave(client, cmd.Room)
		return cmd, nil
	}
}

func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, ErrInvalidCommand
	}
	if cmd.Action != ActionJoin && cmd.Action != ActionLeave {
		return Command{}, ErrInvalidCommand
	}
	if !broadcast.ValidRoom(cmd.Room) {
		return Command{}, ErrInvalidCommand
	}
	return cmd, nil
}
