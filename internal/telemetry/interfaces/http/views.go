package http

import (
	"time"

	telemetry "leakwatch/internal/telemetry/domain"
)

// isoLayout renders UTC timestamps with millisecond precision and a Z suffix.
const isoLayout = "2006-01-02T15:04:05.000Z"

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	value := t.UTC().Format(isoLayout)
	return &value
}

type readingView struct {
	ID                 int64                        `json:"id"`
	Sensor1            int64                        `json:"sensor1"`
	Sensor2            int64                        `json:"sensor2"`
	Sensor3            int64                        `json:"sensor3"`
	SensorValues       [telemetry.SensorCount]int64 `json:"sensor_values"`
	LeakConfirmed      bool                         `json:"leak_confirmed"`
	BurstConfirmed     bool                         `json:"burst_confirmed"`
	LeakLocation       *string                      `json:"leak_location"`
	Confidence         float64                      `json:"confidence"`
	CorrelationScore   float64                      `json:"correlation_score"`
	StabilityScore     float64                      `json:"stability_score"`
	EnvironmentalNoise bool                         `json:"environmental_noise"`
	ActiveSensors      int                          `json:"active_sensors"`
	BurstType          telemetry.BurstType          `json:"burst_type"`
	BurstIntensity     float64                      `json:"burst_intensity"`
	BurstDismissed     bool                         `json:"burst_dismissed"`
	Timestamp          *string                      `json:"timestamp"`
}

func toReadingView(obs telemetry.Observation) readingView {
	return readingView{
		ID:                 obs.ID,
		Sensor1:            obs.SensorValues[0],
		Sensor2:            obs.SensorValues[1],
		Sensor3:            obs.SensorValues[2],
		SensorValues:       obs.SensorValues,
		LeakConfirmed:      obs.LeakConfirmed,
		BurstConfirmed:     obs.BurstConfirmed,
		LeakLocation:       obs.LeakLocation,
		Confidence:         obs.Confidence,
		CorrelationScore:   obs.CorrelationScore,
		StabilityScore:     obs.StabilityScore,
		EnvironmentalNoise: obs.EnvironmentalNoise,
		ActiveSensors:      obs.ActiveSensors,
		BurstType:          obs.BurstType,
		BurstIntensity:     obs.BurstIntensity,
		BurstDismissed:     obs.BurstDismissed,
		Timestamp:          isoTime(obs.Timestamp),
	}
}

type statusView struct {
	Status             telemetry.Status              `json:"status"`
	Sensor1            *int64                        `json:"sensor1"`
	Sensor2            *int64                        `json:"sensor2"`
	Sensor3            *int64                        `json:"sensor3"`
	SensorValues       *[telemetry.SensorCount]int64 `json:"sensor_values"`
	LeakConfirmed      bool                          `json:"leak_confirmed"`
	BurstConfirmed     bool                          `json:"burst_confirmed"`
	LeakLocation       *string                       `json:"leak_location"`
	Confidence         float64                       `json:"confidence"`
	CorrelationScore   float64                       `json:"correlation_score"`
	StabilityScore     float64                       `json:"stability_score"`
	EnvironmentalNoise bool                          `json:"environmental_noise"`
	ActiveSensors      int                           `json:"active_sensors"`
	BurstType          telemetry.BurstType           `json:"burst_type"`
	BurstIntensity     float64                       `json:"burst_intensity"`
	BurstDismissed     bool                          `json:"burst_dismissed"`
	SignalQualityGood  bool                          `json:"signal_quality_good"`
	EnvironmentalClean bool                          `json:"environmental_clean"`
	Timestamp          *string                       `json:"timestamp"`
}

func toStatusView(status telemetry.Status, latest *telemetry.Observation) statusView {
	if latest == nil {
		return statusView{Status: telemetry.StatusNoData, BurstType: telemetry.BurstNormal}
	}
	values := latest.SensorValues
	return statusView{
		Status:             status,
		Sensor1:            &values[0],
		Sensor2:            &values[1],
		Sensor3:            &values[2],
		SensorValues:       &values,
		LeakConfirmed:      latest.LeakConfirmed,
		BurstConfirmed:     latest.BurstConfirmed,
		LeakLocation:       latest.LeakLocation,
		Confidence:         latest.Confidence,
		CorrelationScore:   latest.CorrelationScore,
		StabilityScore:     latest.StabilityScore,
		EnvironmentalNoise: latest.EnvironmentalNoise,
		ActiveSensors:      latest.ActiveSensors,
		BurstType:          latest.BurstType,
		BurstIntensity:     latest.BurstIntensity,
		BurstDismissed:     latest.BurstDismissed,
		SignalQualityGood:  telemetry.SignalQualityGood(latest),
		EnvironmentalClean: telemetry.EnvironmentalClean(latest),
		Timestamp:          isoTime(latest.Timestamp),
	}
}

type historyView struct {
	ID             int64               `json:"id"`
	Sensor1        int64               `json:"sensor1"`
	Sensor2        int64               `json:"sensor2"`
	Sensor3        int64               `json:"sensor3"`
	LeakConfirmed  bool                `json:"leak_confirmed"`
	BurstConfirmed bool                `json:"burst_confirmed"`
	LeakLocation   *string             `json:"leak_location"`
	Confidence     float64             `json:"confidence"`
	BurstType      telemetry.BurstType `json:"burst_type"`
	BurstIntensity float64             `json:"burst_intensity"`
	Timestamp      *string             `json:"timestamp"`
}

func toHistoryView(obs telemetry.Observation) historyView {
	return historyView{
		ID:             obs.ID,
		Sensor1:        obs.SensorValues[0],
		Sensor2:        obs.SensorValues[1],
		Sensor3:        obs.SensorValues[2],
		LeakConfirmed:  obs.LeakConfirmed,
		BurstConfirmed: obs.BurstConfirmed,
		LeakLocation:   obs.LeakLocation,
		Confidence:     obs.Confidence,
		BurstType:      obs.BurstType,
		BurstIntensity: obs.BurstIntensity,
		Timestamp:      isoTime(obs.Timestamp),
	}
}

type sensorView struct {
	Sensor1   int64   `json:"sensor1"`
	Sensor2   int64   `json:"sensor2"`
	Sensor3   int64   `json:"sensor3"`
	Timestamp *string `json:"timestamp"`
}

func toSensorView(obs telemetry.Observation) sensorView {
	return sensorView{
		Sensor1:   obs.SensorValues[0],
		Sensor2:   obs.SensorValues[1],
		Sensor3:   obs.SensorValues[2],
		Timestamp: isoTime(obs.Timestamp),
	}
}
