package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BurstType classifies the upstream burst detector output.
type BurstType string

const (
	BurstNormal       BurstType = "NORMAL FLOW"
	BurstPipeline     BurstType = "PIPELINE BURST"
	BurstCatastrophic BurstType = "CATASTROPHIC BURST"
)

// Severity returns the position of t in the severity order
// NORMAL FLOW < PIPELINE BURST < CATASTROPHIC BURST, or -1 when unknown.
func (t BurstType) Severity() int {
	switch t {
	case BurstNormal:
		return 0
	case BurstPipeline:
		return 1
	case BurstCatastrophic:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is one of the known burst types.
func (t BurstType) Valid() bool {
	return t.Severity() >= 0
}

// ParseBurstType normalizes a wire value. Empty input maps to NORMAL FLOW.
func ParseBurstType(value string) (BurstType, error) {
	normalized := strings.Join(strings.Fields(strings.ToUpper(value)), " ")
	if normalized == "" {
		return BurstNormal, nil
	}
	t := BurstType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown burst_type %q", ErrInvalidInput, value)
	}
	return t, nil
}

// SensorCount is the number of physical sensors on the monitored pipeline.
const SensorCount = 3

// Observation is one appended telemetry row. Only BurstDismissed changes after insert.
type Observation struct {
	ID                 int64
	SensorValues       [SensorCount]int64
	LeakConfirmed      bool
	BurstConfirmed     bool
	LeakLocation       *string
	Confidence         float64
	CorrelationScore   float64
	StabilityScore     float64
	EnvironmentalNoise bool
	ActiveSensors      int
	BurstType          BurstType
	BurstIntensity     float64
	BurstDismissed     bool
	Timestamp          time.Time
}

// HasActualBurst is true when a burst is confirmed and classified above NORMAL FLOW.
func (o Observation) HasActualBurst() bool {
	return o.BurstConfirmed && o.BurstType != BurstNormal
}

// Repository is the append-only reading store.
type Repository interface {
	// Append stores input and returns the assigned id.
	Append(ctx context.Context, input ObservationInput) (int64, error)
	// Latest returns the row with the maximum id, or nil when empty.
	Latest(ctx context.Context) (*Observation, error)
	// Recent returns up to n rows, oldest first.
	Recent(ctx context.Context, n int) ([]Observation, error)
	// MarkLatestDismissed sets burst_dismissed on the row with the maximum id.
	// It reports whether a row was updated; an empty store is not an error.
	MarkLatestDismissed(ctx context.Context) (bool, error)
}
