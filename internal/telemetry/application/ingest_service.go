package application

import (
	"context"
	"errors"
	"log"
	"time"

	"leakwatch/internal/observability/metrics"
	telemetry "leakwatch/internal/telemetry/domain"
)

// IngestService appends uplink readings to the store.
type IngestService struct {
	repo   telemetry.Repository
	logger *log.Logger
}

// NewIngestService constructs an ingest service.
func NewIngestService(repo telemetry.Repository, logger *log.Logger) (*IngestService, error) {
	if repo == nil {
		return nil, errors.New("ingest service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestService{repo: repo, logger: logger}, nil
}

// Append validates and stores one reading, returning the assigned id.
func (s *IngestService) Append(ctx context.Context, input telemetry.ObservationInput) (int64, error) {
	start := time.Now()
	if err := input.Validate(); err != nil {
		metrics.IncIngestError("invalid_payload")
		metrics.ObserveIngest(metrics.ResultInvalid, time.Since(start))
		return 0, err
	}
	id, err := s.repo.Append(ctx, input)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidInput) {
			metrics.IncIngestError("invalid_payload")
			metrics.ObserveIngest(metrics.ResultInvalid, time.Since(start))
			return 0, err
		}
		s.logger.Printf("ingest: append error: %v", err)
		metrics.IncIngestError("storage")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		return 0, err
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	return id, nil
}

// AppendPayload decodes a raw uplink JSON payload and stores it.
func (s *IngestService) AppendPayload(ctx context.Context, body []byte) (int64, error) {
	input, err := telemetry.ParseInput(body)
	if err != nil {
		metrics.IncIngestError("invalid_payload")
		metrics.ObserveIngest(metrics.ResultInvalid, 0)
		return 0, err
	}
	return s.Append(ctx, input)
}
