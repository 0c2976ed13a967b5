package memory

import (
	"context"
	"sync"
	"time"

	telemetry "leakwatch/internal/telemetry/domain"
)

// Repository is an in-memory reading store for demo/testing.
type Repository struct {
	mu     sync.RWMutex
	rows   []telemetry.Observation
	nextID int64
	now    func() time.Time
}

// NewRepository constructs a repository. A nil clock uses time.Now.
func NewRepository(now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{nextID: 1, now: now}
}

// Append stores the input and returns its id.
func (r *Repository) Append(ctx context.Context, input telemetry.ObservationInput) (int64, error) {
	_ = ctx
	if err := input.Validate(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	obs := input.Observation(r.nextID)
	obs.Timestamp = r.now().UTC()
	if input.LeakLocation != nil {
		location := *input.LeakLocation
		obs.LeakLocation = &location
	}
	r.rows = append(r.rows, obs)
	r.nextID++
	return obs.ID, nil
}

// Latest returns a copy of the newest row, or nil when empty.
func (r *Repository) Latest(ctx context.Context) (*telemetry.Observation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.rows) == 0 {
		return nil, nil
	}
	obs := r.rows[len(r.rows)-1]
	return &obs, nil
}

// Recent returns up to n newest rows, oldest first.
func (r *Repository) Recent(ctx context.Context, n int) ([]telemetry.Observation, error) {
	_ = ctx
	if n <= 0 {
		return []telemetry.Observation{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := len(r.rows) - n
	if start < 0 {
		start = 0
	}
	out := make([]telemetry.Observation, len(r.rows)-start)
	copy(out, r.rows[start:])
	return out, nil
}

// MarkLatestDismissed flags the newest row.
func (r *Repository) MarkLatestDismissed(ctx context.Context) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return false, nil
	}
	r.rows[len(r.rows)-1].BurstDismissed = true
	return true, nil
}

// Count returns the number of rows.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.rows)), nil
}

var _ telemetry.Repository = (*Repository)(nil)
