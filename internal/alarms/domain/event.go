package alarms

import "time"

// EventType names an alert lifecycle transition.
type EventType string

const (
	EventTriggered EventType = "triggered"
	EventEscalated EventType = "escalated"
	EventDismissed EventType = "dismissed"
)

// Event is emitted on every phase or snapshot change.
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	EpisodeID string    `json:"episode_id"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Previous  *Snapshot `json:"previous,omitempty"`
	At        time.Time `json:"at"`
}
