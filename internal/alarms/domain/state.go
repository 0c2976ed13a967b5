package alarms

import (
	"time"

	telemetry "leakwatch/internal/telemetry/domain"
)

// Phase is the alert lifecycle phase.
type Phase string

const (
	PhaseIdle   Phase = "Idle"
	PhaseActive Phase = "Active"
)

// Snapshot is the burst picture frozen at trigger or escalation time.
type Snapshot struct {
	BurstType      telemetry.BurstType `json:"burst_type"`
	LeakLocation   *string             `json:"leak_location"`
	Confidence     float64             `json:"confidence"`
	BurstIntensity float64             `json:"burst_intensity"`
	ObservationID  int64               `json:"observation_id"`
}

// SnapshotOf freezes the burst fields of obs.
func SnapshotOf(obs telemetry.Observation) Snapshot {
	snap := Snapshot{
		BurstType:      obs.BurstType,
		Confidence:     obs.Confidence,
		BurstIntensity: obs.BurstIntensity,
		ObservationID:  obs.ID,
	}
	if obs.LeakLocation != nil {
		location := *obs.LeakLocation
		snap.LeakLocation = &location
	}
	return snap
}

// State is the in-memory alert state of one monitored asset.
type State struct {
	Phase       Phase      `json:"phase"`
	EpisodeID   string     `json:"episode_id,omitempty"`
	Snapshot    *Snapshot  `json:"snapshot"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	PrevBurst   bool       `json:"prev_burst"`
}

// NewState returns the process-start state.
func NewState() State {
	return State{Phase: PhaseIdle}
}

// Clone returns a deep copy safe to hand out.
func (s State) Clone() State {
	out := s
	if s.Snapshot != nil {
		snap := *s.Snapshot
		if snap.LeakLocation != nil {
			location := *snap.LeakLocation
			snap.LeakLocation = &location
		}
		out.Snapshot = &snap
	}
	if s.TriggeredAt != nil {
		at := *s.TriggeredAt
		out.TriggeredAt = &at
	}
	if s.EscalatedAt != nil {
		at := *s.EscalatedAt
		out.EscalatedAt = &at
	}
	return out
}

// Severity of the frozen burst type, -1 when idle.
func (s State) Severity() int {
	if s.Phase != PhaseActive || s.Snapshot == nil {
		return -1
	}
	return s.Snapshot.BurstType.Severity()
}

// Evaluate applies one tick against the latest observation (nil when the store is empty).
// Idle moves to Active on a rising edge of HasActualBurst. Active re-freezes only when
// the current burst type is strictly more severe than the frozen one. PrevBurst always
// tracks the current tick.
func (s State) Evaluate(obs *telemetry.Observation, now time.Time, newEpisodeID func() string) (State, *Event) {
	next := s.Clone()
	burst := obs != nil && obs.HasActualBurst()
	next.PrevBurst = burst

	switch s.Phase {
	case PhaseActive:
		if !burst || next.Snapshot == nil {
			return next, nil
		}
		if obs.BurstType.Severity() <= next.Snapshot.BurstType.Severity() {
			return next, nil
		}
		previous := next.Snapshot
		snap := SnapshotOf(*obs)
		at := now.UTC()
		next.Snapshot = &snap
		next.EscalatedAt = &at
		return next, &Event{
			Type:      EventEscalated,
			EpisodeID: next.EpisodeID,
			Snapshot:  cloneSnapshot(&snap),
			Previous:  cloneSnapshot(previous),
			At:        at,
		}
	default:
		if !burst || s.PrevBurst {
			return next, nil
		}
		snap := SnapshotOf(*obs)
		at := now.UTC()
		next.Phase = PhaseActive
		next.EpisodeID = newEpisodeID()
		next.Snapshot = &snap
		next.TriggeredAt = &at
		next.EscalatedAt = nil
		return next, &Event{
			Type:      EventTriggered,
			EpisodeID: next.EpisodeID,
			Snapshot:  cloneSnapshot(&snap),
			At:        at,
		}
	}
}

// Dismissed clears the episode. PrevBurst is kept so a still-bursting stream
// does not immediately re-trigger.
func (s State) Dismissed(now time.Time) (State, *Event) {
	if s.Phase != PhaseActive {
		return s.Clone(), nil
	}
	event := &Event{
		Type:      EventDismissed,
		EpisodeID: s.EpisodeID,
		Snapshot:  cloneSnapshot(s.Snapshot),
		At:        now.UTC(),
	}
	return State{Phase: PhaseIdle, PrevBurst: s.PrevBurst}, event
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.LeakLocation != nil {
		location := *s.LeakLocation
		out.LeakLocation = &location
	}
	return &out
}
