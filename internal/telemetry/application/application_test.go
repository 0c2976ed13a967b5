package application

import (
	"context"
	"errors"
	"testing"
	"time"

	telemetry "leakwatch/internal/telemetry/domain"
	"leakwatch/internal/telemetry/infrastructure/memory"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, telemetry.ObservationInput) (int64, error) {
	return 0, telemetry.ErrStorageFailure
}
func (failingRepo) Latest(context.Context) (*telemetry.Observation, error) {
	return nil, telemetry.ErrStorageFailure
}
func (failingRepo) Recent(context.Context, int) ([]telemetry.Observation, error) {
	return nil, telemetry.ErrStorageFailure
}
func (failingRepo) MarkLatestDismissed(context.Context) (bool, error) {
	return false, telemetry.ErrStorageFailure
}

func TestIngestService_AppendPayload(t *testing.T) {
	repo := memory.NewRepository(nil)
	svc, err := NewIngestService(repo, nil)
	if err != nil {
		t.Fatalf("new ingest service: %v", err)
	}
	ctx := context.Background()

	id, err := svc.AppendPayload(ctx, []byte(`{"sensor1":150,"sensor2":180,"sensor3":120,"leak_confirmed":1}`))
	if err != nil {
		t.Fatalf("append payload: %v", err)
	}
	latest, _ := repo.Latest(ctx)
	if latest == nil || latest.ID != id || !latest.LeakConfirmed {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	if _, err := svc.AppendPayload(ctx, []byte(`{"sensor_values":[150,"x",120]}`)); !errors.Is(err, telemetry.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if count, _ := repo.Count(ctx); count != 1 {
		t.Fatalf("invalid payload must not be stored, count=%d", count)
	}
}

func TestIngestService_StorageFailure(t *testing.T) {
	svc, _ := NewIngestService(failingRepo{}, nil)
	_, err := svc.Append(context.Background(), telemetry.ObservationInput{BurstType: telemetry.BurstNormal})
	if !errors.Is(err, telemetry.ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}

func TestStatusService_Current(t *testing.T) {
	repo := memory.NewRepository(nil)
	svc, _ := NewStatusService(repo)
	ctx := context.Background()

	report, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if report.Status != telemetry.StatusNoData || report.Observation != nil {
		t.Fatalf("expected no data report, got %+v", report)
	}

	_, _ = repo.Append(ctx, telemetry.ObservationInput{LeakConfirmed: true, BurstConfirmed: true, BurstType: telemetry.BurstPipeline})
	report, _ = svc.Current(ctx)
	if report.Status != telemetry.StatusBurst {
		t.Fatalf("expected Burst, got %q", report.Status)
	}
}

func TestHistoryService_Window(t *testing.T) {
	repo := memory.NewRepository(nil)
	svc, _ := NewHistoryService(repo)
	ctx := context.Background()
	for i := int64(0); i < 25; i++ {
		_, _ = repo.Append(ctx, telemetry.ObservationInput{SensorValues: [3]int64{i, i, i}, BurstType: telemetry.BurstNormal})
	}

	rows, err := svc.Window(ctx, HistoryLimit)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(rows) != HistoryLimit {
		t.Fatalf("expected %d rows, got %d", HistoryLimit, len(rows))
	}
	if rows[0].SensorValues[0] != 5 || rows[len(rows)-1].SensorValues[0] != 24 {
		t.Fatalf("unexpected window bounds: first=%v last=%v", rows[0].SensorValues, rows[len(rows)-1].SensorValues)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].ID <= rows[i-1].ID {
			t.Fatalf("window not chronological at %d", i)
		}
	}

	all, _ := svc.Window(ctx, 100)
	if len(all) != 25 {
		t.Fatalf("expected min(limit, total)=25, got %d", len(all))
	}
	if empty, _ := svc.Window(ctx, 0); len(empty) != 0 {
		t.Fatalf("expected empty window for zero limit")
	}
}

func TestSummarize(t *testing.T) {
	at := func(hour int) time.Time { return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC) }
	rows := []telemetry.Observation{
		{ID: 1, SensorValues: [3]int64{100, 200, -1}, Timestamp: at(9)},
		{ID: 2, SensorValues: [3]int64{300, 100, 200}, LeakConfirmed: true, Timestamp: at(9)},
		{ID: 3, SensorValues: [3]int64{400, 500, 600}, LeakConfirmed: true, BurstConfirmed: true, BurstType: telemetry.BurstPipeline, Timestamp: at(10)},
		{ID: 4, SensorValues: [3]int64{0, 0, 0}, Timestamp: at(11)},
	}

	got := Summarize(rows)
	if got.Total != 4 {
		t.Fatalf("expected total 4, got %d", got.Total)
	}
	// (100+200+300+100+200+400+500+600+0+0+0)/11 = 218.18
	if got.Average != 218 {
		t.Fatalf("expected average 218, got %d", got.Average)
	}
	if got.Peak != 600 {
		t.Fatalf("expected peak 600, got %d", got.Peak)
	}
	if got.AlertRate != 50 {
		t.Fatalf("expected alert rate 50, got %d", got.AlertRate)
	}
	if got.Distribution != (Distribution{Normal: 2, Leak: 1, Burst: 1}) {
		t.Fatalf("unexpected distribution: %+v", got.Distribution)
	}
	if len(got.Hourly) != 3 || got.Hourly[0].Hour != 9 || got.Hourly[0].Average != 180 {
		t.Fatalf("unexpected hourly: %+v", got.Hourly)
	}
	if len(got.RecentAlerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", got.RecentAlerts)
	}
	if got.RecentAlerts[0].Type != "Leak Detected" || got.RecentAlerts[0].Level != "MEDIUM" || got.RecentAlerts[0].Value != 300 {
		t.Fatalf("unexpected leak alert: %+v", got.RecentAlerts[0])
	}
	if got.RecentAlerts[1].Type != "Major Burst" || got.RecentAlerts[1].Level != "HIGH" || got.RecentAlerts[1].Value != 600 {
		t.Fatalf("unexpected burst alert: %+v", got.RecentAlerts[1])
	}
}

func TestSummarize_KeepsLastFiveAlerts(t *testing.T) {
	var rows []telemetry.Observation
	for i := int64(1); i <= 8; i++ {
		rows = append(rows, telemetry.Observation{ID: i, LeakConfirmed: true})
	}
	got := Summarize(rows)
	if len(got.RecentAlerts) != 5 || got.RecentAlerts[0].ID != 4 || got.RecentAlerts[4].ID != 8 {
		t.Fatalf("unexpected recent alerts: %+v", got.RecentAlerts)
	}
	if empty := Summarize(nil); empty.Total != 0 || empty.Hourly == nil || empty.RecentAlerts == nil {
		t.Fatalf("empty summary must have non-nil slices: %+v", empty)
	}
}
