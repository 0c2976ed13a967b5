package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "leakwatch/internal/alarms/domain"
	"leakwatch/internal/observability/metrics"
	telemetry "leakwatch/internal/telemetry/domain"
)

// LatestReader reads the newest observation; nil means the store is empty.
type LatestReader interface {
	Latest(ctx context.Context) (*telemetry.Observation, error)
}

// Dismisser persists a dismissal on the newest observation.
type Dismisser interface {
	MarkLatestDismissed(ctx context.Context) (bool, error)
}

// AlarmNotifier publishes alert lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event alarms.Event)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// DismissResult reports the outcome of a dismissal.
type DismissResult struct {
	// Effective is false when the alert was already idle.
	Effective bool
	// Marked is true when a stored row received burst_dismissed.
	Marked bool
	Event  *alarms.Event
	State  alarms.State
}

// Controller owns the alert state of one monitored asset. Tick and Dismiss are
// serialized by a single mutex over phase, snapshot and the previous burst flag.
type Controller struct {
	reader    LatestReader
	dismisser Dismisser
	notifier  AlarmNotifier
	clock     Clock
	newID     func() string
	logger    *log.Logger

	mu    sync.Mutex
	state alarms.State
	seq   uint64

	// publishMu is taken before mu is released so events leave in Seq order
	// without holding the state lock during delivery.
	publishMu sync.Mutex
}

// Option customizes the controller.
type Option func(*Controller)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) Option {
	return func(c *Controller) {
		c.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEpisodeIDs overrides episode id generation.
func WithEpisodeIDs(next func() string) Option {
	return func(c *Controller) {
		if next != nil {
			c.newID = next
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController constructs a controller in the Idle phase.
func NewController(reader LatestReader, dismisser Dismisser, opts ...Option) (*Controller, error) {
	if reader == nil {
		return nil, errors.New("alarms: nil reader")
	}
	if dismisser == nil {
		return nil, errors.New("alarms: nil dismisser")
	}
	c := &Controller{
		reader:    reader,
		dismisser: dismisser,
		clock:     systemClock{},
		newID:     func() string { return uuid.NewString() },
		logger:    log.Default(),
		state:     alarms.NewState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.SetAlertState(false, -1)
	return c, nil
}

// Tick evaluates the latest observation once. A failed read leaves the state
// untouched and returns the error; the next tick retries.
func (c *Controller) Tick(ctx context.Context) error {
	if c == nil {
		return errors.New("alarms: nil controller")
	}
	c.mu.Lock()
	latest, err := c.reader.Latest(ctx)
	if err != nil {
		c.mu.Unlock()
		metrics.IncAlertTick(metrics.ResultSkipped)
		return fmt.Errorf("alarms: tick skipped: %w", err)
	}
	next, event := c.state.Evaluate(latest, c.clock.Now(), c.newID)
	c.state = next
	event = c.stamp(event)
	metrics.SetAlertState(next.Phase == alarms.PhaseActive, next.Severity())
	c.publishMu.Lock()
	c.mu.Unlock()

	metrics.IncAlertTick(metrics.ResultSuccess)
	c.publish(ctx, event)
	c.publishMu.Unlock()
	return nil
}

// Dismiss clears an active alert after persisting the dismissal on the newest
// row. It is a no-op success while idle. When persistence fails the alert stays
// active and the error wraps ErrDismissFailed.
func (c *Controller) Dismiss(ctx context.Context) (DismissResult, error) {
	if c == nil {
		return DismissResult{}, errors.New("alarms: nil controller")
	}
	c.mu.Lock()
	if c.state.Phase != alarms.PhaseActive {
		result := DismissResult{State: c.state.Clone()}
		c.mu.Unlock()
		return result, nil
	}
	marked, err := c.dismisser.MarkLatestDismissed(ctx)
	if err != nil {
		result := DismissResult{State: c.state.Clone()}
		c.mu.Unlock()
		c.logger.Printf("alarms: dismiss error: %v", err)
		return result, fmt.Errorf("%w: %w", alarms.ErrDismissFailed, err)
	}
	next, event := c.state.Dismissed(c.clock.Now())
	c.state = next
	event = c.stamp(event)
	result := DismissResult{Effective: true, Marked: marked, Event: event, State: next.Clone()}
	metrics.SetAlertState(false, -1)
	c.publishMu.Lock()
	c.mu.Unlock()

	c.publish(ctx, event)
	c.publishMu.Unlock()
	return result, nil
}

// State returns a copy of the current alert state.
func (c *Controller) State() alarms.State {
	if c == nil {
		return alarms.NewState()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) stamp(event *alarms.Event) *alarms.Event {
	if event == nil {
		return nil
	}
	c.seq++
	event.Seq = c.seq
	return event
}

func (c *Controller) publish(ctx context.Context, event *alarms.Event) {
	if event == nil {
		return
	}
	metrics.IncAlertEvent(string(event.Type))
	c.logger.Printf("alarms: %s episode=%s seq=%d", event.Type, event.EpisodeID, event.Seq)
	if c.notifier != nil {
		c.notifier.Notify(ctx, *event)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
