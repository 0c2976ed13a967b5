package application

import (
	"context"
	"errors"
	"log"
	"time"
)

// DefaultTickTimeout bounds one tick's storage read.
const DefaultTickTimeout = 5 * time.Second

// Ticker delivers tick times until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker for an interval.
type TickerFactory func(interval time.Duration) Ticker

// TickRunner evaluates one tick.
type TickRunner interface {
	Tick(ctx context.Context) error
}

// Scheduler drives a TickRunner on a fixed cadence. Ticks run one at a time.
type Scheduler struct {
	runner      TickRunner
	interval    time.Duration
	newTicker   TickerFactory
	tickTimeout time.Duration
	logger      *log.Logger
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithTickerFactory replaces the wall-clock ticker.
func WithTickerFactory(factory TickerFactory) SchedulerOption {
	return func(s *Scheduler) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithTickTimeout bounds each tick.
func WithTickTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.tickTimeout = timeout
		}
	}
}

// WithSchedulerLogger assigns a logger.
func WithSchedulerLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner TickRunner, interval time.Duration, opts ...SchedulerOption) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("alarm scheduler: nil runner")
	}
	if interval <= 0 {
		return nil, errors.New("alarm scheduler: non-positive interval")
	}
	s := &Scheduler{
		runner:      runner,
		interval:    interval,
		newTicker:   newTimeTicker,
		tickTimeout: DefaultTickTimeout,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run ticks once immediately and then on every interval until ctx is done.
// Cancelling ctx stops the cadence; a tick already running completes.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.tickTimeout)
	defer cancel()
	if err := s.runner.Tick(ctx); err != nil {
		s.logger.Printf("alarm scheduler: tick error: %v", err)
	}
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(interval time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(interval)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }
