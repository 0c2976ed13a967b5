package application

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	telemetry "leakwatch/internal/telemetry/domain"
)

// Window sizes used by the read endpoints.
const (
	RecentLimit           = 10
	HistoryLimit          = 20
	SensorHistoryLimit    = 50
	DefaultAnalyticsLimit = 20
	MaxAnalyticsLimit     = 500
	MaxExportLimit        = 1000

	recentAlertLimit = 5
)

// HistoryService serves windowed reads and summaries over recent readings.
type HistoryService struct {
	repo telemetry.Repository
}

// NewHistoryService constructs a history service.
func NewHistoryService(repo telemetry.Repository) (*HistoryService, error) {
	if repo == nil {
		return nil, errors.New("history service: nil repository")
	}
	return &HistoryService{repo: repo}, nil
}

// Window returns the limit most recent readings in ascending id order.
func (s *HistoryService) Window(ctx context.Context, limit int) ([]telemetry.Observation, error) {
	if limit <= 0 {
		return []telemetry.Observation{}, nil
	}
	rows, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

// Distribution counts readings per derived category.
type Distribution struct {
	Normal int `json:"normal"`
	Leak   int `json:"leak"`
	Burst  int `json:"burst"`
}

// HourlyAverage is the mean sensor value of readings within one UTC hour of day.
type HourlyAverage struct {
	Hour    int `json:"hour"`
	Average int `json:"average"`
}

// AlertEntry summarizes one alerting reading.
type AlertEntry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Value     int64     `json:"value"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates a window of readings.
type Summary struct {
	Total        int             `json:"total"`
	Average      int             `json:"average"`
	Peak         int64           `json:"peak"`
	AlertRate    int             `json:"alert_rate"`
	Distribution Distribution    `json:"distribution"`
	Hourly       []HourlyAverage `json:"hourly"`
	RecentAlerts []AlertEntry    `json:"recent_alerts"`
}

// Summary aggregates the limit most recent readings. Negative sensor values
// mark disconnected sensors and are left out of averages and peaks.
func (s *HistoryService) Summary(ctx context.Context, limit int) (Summary, error) {
	rows, err := s.Window(ctx, limit)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rows), nil
}

// Summarize computes a Summary over rows given in chronological order.
func Summarize(rows []telemetry.Observation) Summary {
	out := Summary{Total: len(rows), Hourly: []HourlyAverage{}, RecentAlerts: []AlertEntry{}}
	if len(rows) == 0 {
		return out
	}

	var sum, count int64
	peakSet := false
	alerts := 0
	hourly := make(map[int][]int64)
	for _, row := range rows {
		hour := row.Timestamp.UTC().Hour()
		for _, v := range row.SensorValues {
			if v < 0 {
				continue
			}
			sum += v
			count++
			if !peakSet || v > out.Peak {
				out.Peak = v
				peakSet = true
			}
			hourly[hour] = append(hourly[hour], v)
		}

		switch {
		case row.BurstConfirmed:
			out.Distribution.Burst++
		case row.LeakConfirmed:
			out.Distribution.Leak++
		default:
			out.Distribution.Normal++
		}

		if row.LeakConfirmed || row.BurstConfirmed {
			alerts++
			out.RecentAlerts = append(out.RecentAlerts, alertEntry(row))
		}
	}
	if count > 0 {
		out.Average = int(math.Round(float64(sum) / float64(count)))
	}
	out.AlertRate = int(math.Round(float64(alerts) / float64(len(rows)) * 100))
	if len(out.RecentAlerts) > recentAlertLimit {
		out.RecentAlerts = out.RecentAlerts[len(out.RecentAlerts)-recentAlertLimit:]
	}

	hours := make([]int, 0, len(hourly))
	for hour := range hourly {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		values := hourly[hour]
		var total int64
		for _, v := range values {
			total += v
		}
		out.Hourly = append(out.Hourly, HourlyAverage{
			Hour:    hour,
			Average: int(math.Round(float64(total) / float64(len(values)))),
		})
	}
	return out
}

func alertEntry(row telemetry.Observation) AlertEntry {
	entry := AlertEntry{ID: row.ID, Type: "Leak Detected", Level: "MEDIUM", Timestamp: row.Timestamp.UTC()}
	if row.BurstConfirmed {
		entry.Type = "Major Burst"
		entry.Level = "HIGH"
	}
	entry.Value = row.SensorValues[0]
	for _, v := range row.SensorValues[1:] {
		if v > entry.Value {
			entry.Value = v
		}
	}
	return entry
}
