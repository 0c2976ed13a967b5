package application

import (
	"context"
	"errors"

	telemetry "leakwatch/internal/telemetry/domain"
)

// StatusReport is the derived status of the latest reading.
type StatusReport struct {
	Status      telemetry.Status
	Observation *telemetry.Observation
}

// StatusService reads the latest reading and derives its status.
type StatusService struct {
	repo telemetry.Repository
}

// NewStatusService constructs a status service.
func NewStatusService(repo telemetry.Repository) (*StatusService, error) {
	if repo == nil {
		return nil, errors.New("status service: nil repository")
	}
	return &StatusService{repo: repo}, nil
}

// Current returns the latest reading with its status. An empty store yields StatusNoData.
func (s *StatusService) Current(ctx context.Context) (StatusReport, error) {
	latest, err := s.repo.Latest(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Status: telemetry.DeriveStatus(latest), Observation: latest}, nil
}
