package models

import "time"

type SnapshotEntry struct {
	ReservationID string    `json:"reservation_id"`
	QueueNumber   int       `json:"queue_number"`
	ClientID      string    `json:"client_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ClientName    string    `json:"client_name"`
	ClientPhone   string    `json:"client_phone,omitempty"`
	ClientEmail   string    `json:"client_email,omitempty"`
}

// Snapshot is the ordered list of non-terminal reservations of a queue.
// The first entry is the reservation being served; the rest are waiting.
type Snapshot struct {
	QueueID      string          `json:"queue_id"`
	Reservations []SnapshotEntry `json:"reservations"`
	Count        int             `json:"count"`
}

func NewSnapshot(queueID string, entries []SnapshotEntry) Snapshot {
	if entries == nil {
		entries = []SnapshotEntry{}
	}
	return Snapshot{QueueID: queueID, Reservations: entries, Count: len(entries)}
}

func (s Snapshot) NowServing() (SnapshotEntry, bool) {
	if len(s.Reservations) == 0 {
		return SnapshotEntry{}, false
	}
	return s.Reservations[0], true
}

func (s Snapshot) Waiting() []SnapshotEntry {
	if len(s.Reservations) < 2 {
		return nil
	}
	return s.Reservations[1:]
}
