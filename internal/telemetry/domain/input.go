package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// maxExactInteger bounds sensor values to integers a JSON number holds exactly.
const maxExactInteger = 1 << 53

// ObservationInput is the caller-supplied part of an observation.
// Id and timestamp are assigned by the store.
type ObservationInput struct {
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
}

// Validate checks invariants a decoded or hand-built input must hold before append.
func (in ObservationInput) Validate() error {
	if !in.BurstType.Valid() {
		return fmt.Errorf("%w: unknown burst_type %q", ErrInvalidInput, in.BurstType)
	}
	for name, v := range map[string]float64{
		"confidence":        in.Confidence,
		"correlation_score": in.CorrelationScore,
		"stability_score":   in.StabilityScore,
		"burst_intensity":   in.BurstIntensity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidInput, name)
		}
	}
	if in.ActiveSensors < 0 || in.ActiveSensors > SensorCount {
		return fmt.Errorf("%w: active_sensors must be between 0 and %d", ErrInvalidInput, SensorCount)
	}
	if in.BurstIntensity < 0 {
		return fmt.Errorf("%w: burst_intensity must be non-negative", ErrInvalidInput)
	}
	return nil
}

// Observation materializes the input as a row with the given id and timestamp.
func (in ObservationInput) Observation(id int64) Observation {
	return Observation{
		ID:                 id,
		SensorValues:       in.SensorValues,
		LeakConfirmed:      in.LeakConfirmed,
		BurstConfirmed:     in.BurstConfirmed,
		LeakLocation:       in.LeakLocation,
		Confidence:         in.Confidence,
		CorrelationScore:   in.CorrelationScore,
		StabilityScore:     in.StabilityScore,
		EnvironmentalNoise: in.EnvironmentalNoise,
		ActiveSensors:      in.ActiveSensors,
		BurstType:          in.BurstType,
		BurstIntensity:     in.BurstIntensity,
		BurstDismissed:     in.BurstDismissed,
	}
}

type wireInput struct {
	Sensor1            json.RawMessage   `json:"sensor1"`
	Sensor2            json.RawMessage   `json:"sensor2"`
	Sensor3            json.RawMessage   `json:"sensor3"`
	SensorValues       []json.RawMessage `json:"sensor_values"`
	LeakConfirmed      json.RawMessage   `json:"leak_confirmed"`
	BurstConfirmed     json.RawMessage   `json:"burst_confirmed"`
	LeakLocation       json.RawMessage   `json:"leak_location"`
	Confidence         json.RawMessage   `json:"confidence"`
	CorrelationScore   json.RawMessage   `json:"correlation_score"`
	StabilityScore     json.RawMessage   `json:"stability_score"`
	EnvironmentalNoise json.RawMessage   `json:"environmental_noise"`
	ActiveSensors      json.RawMessage   `json:"active_sensors"`
	BurstType          json.RawMessage   `json:"burst_type"`
	BurstIntensity     json.RawMessage   `json:"burst_intensity"`
	BurstDismissed     json.RawMessage   `json:"burst_dismissed"`
}

// ParseInput decodes an uplink JSON payload. Sensors come either as sensor1..sensor3
// or as a sensor_values array; every other field is optional and defaults to zero,
// false, NORMAL FLOW or unknown location. Booleans accept true/false, 0/1 and
// their string forms, as sent by the field firmware.
func ParseInput(body []byte) (ObservationInput, error) {
	var in ObservationInput
	var wire wireInput
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&wire); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	raw := wire.SensorValues
	if raw == nil {
		raw = make([]json.RawMessage, 0, SensorCount)
		for _, v := range []json.RawMessage{wire.Sensor1, wire.Sensor2, wire.Sensor3} {
			if isNull(v) {
				break
			}
			raw = append(raw, v)
		}
	}
	if len(raw) != SensorCount {
		return in, fmt.Errorf("%w: expected %d sensor values, got %d", ErrInvalidInput, SensorCount, len(raw))
	}
	for i, v := range raw {
		n, ok, err := number(v)
		if err != nil || !ok {
			return in, fmt.Errorf("%w: sensor %d is not numeric", ErrInvalidInput, i+1)
		}
		if math.Abs(n) > maxExactInteger {
			return in, fmt.Errorf("%w: sensor %d is out of range", ErrInvalidInput, i+1)
		}
		in.SensorValues[i] = int64(math.Round(n))
	}

	var err error
	if in.LeakConfirmed, err = flag("leak_confirmed", wire.LeakConfirmed); err != nil {
		return in, err
	}
	if in.BurstConfirmed, err = flag("burst_confirmed", wire.BurstConfirmed); err != nil {
		return in, err
	}
	if in.EnvironmentalNoise, err = flag("environmental_noise", wire.EnvironmentalNoise); err != nil {
		return in, err
	}
	if in.BurstDismissed, err = flag("burst_dismissed", wire.BurstDismissed); err != nil {
		return in, err
	}
	if in.Confidence, err = optionalNumber("confidence", wire.Confidence); err != nil {
		return in, err
	}
	if in.CorrelationScore, err = optionalNumber("correlation_score", wire.CorrelationScore); err != nil {
		return in, err
	}
	if in.StabilityScore, err = optionalNumber("stability_score", wire.StabilityScore); err != nil {
		return in, err
	}
	if in.BurstIntensity, err = optionalNumber("burst_intensity", wire.BurstIntensity); err != nil {
		return in, err
	}
	active, err := optionalNumber("active_sensors", wire.ActiveSensors)
	if err != nil {
		return in, err
	}
	if active < 0 || active > SensorCount {
		return in, fmt.Errorf("%w: active_sensors must be between 0 and %d", ErrInvalidInput, SensorCount)
	}
	in.ActiveSensors = int(math.Round(active))

	if !isNull(wire.LeakLocation) {
		var location string
		if err := json.Unmarshal(wire.LeakLocation, &location); err != nil {
			return in, fmt.Errorf("%w: leak_location must be a string", ErrInvalidInput)
		}
		if location = strings.TrimSpace(location); location != "" {
			in.LeakLocation = &location
		}
	}

	in.BurstType = BurstNormal
	if !isNull(wire.BurstType) {
		var value string
		if err := json.Unmarshal(wire.BurstType, &value); err != nil {
			return in, fmt.Errorf("%w: burst_type must be a string", ErrInvalidInput)
		}
		if in.BurstType, err = ParseBurstType(value); err != nil {
			return in, err
		}
	}
	return in, in.Validate()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func number(raw json.RawMessage) (float64, bool, error) {
	if isNull(raw) {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, true, err
	}
	// json.Number also accepts quoted numerals; only bare numbers are numeric here.
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return 0, true, fmt.Errorf("quoted number")
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("not a finite number")
	}
	return f, true, nil
}

func optionalNumber(name string, raw json.RawMessage) (float64, error) {
	n, _, err := number(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not numeric", ErrInvalidInput, name)
	}
	return n, nil
}

func flag(name string, raw json.RawMessage) (bool, error) {
	if isNull(raw) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	if n, _, err := number(raw); err == nil {
		return n != 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s is not a boolean", ErrInvalidInput, name)
}
