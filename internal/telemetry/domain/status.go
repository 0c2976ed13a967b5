package telemetry

// Status is the categorical operating status of the pipeline.
type Status string

const (
	StatusNoData Status = "No Data"
	StatusBurst  Status = "Burst"
	StatusLeak   Status = "Leak"
	StatusNormal Status = "Normal"
)

// SignalQualityThreshold is the correlation score above which signal quality is good.
const SignalQualityThreshold = 70

// DeriveStatus maps the latest observation to a status. A nil observation means no data.
func DeriveStatus(latest *Observation) Status {
	switch {
	case latest == nil:
		return StatusNoData
	case latest.LeakConfirmed && latest.BurstConfirmed:
		return StatusBurst
	case latest.LeakConfirmed:
		return StatusLeak
	default:
		return StatusNormal
	}
}

// SignalQualityGood reports correlation_score > 70.
func SignalQualityGood(latest *Observation) bool {
	return latest != nil && latest.CorrelationScore > SignalQualityThreshold
}

// EnvironmentalClean reports the absence of environmental noise.
func EnvironmentalClean(latest *Observation) bool {
	return latest != nil && !latest.EnvironmentalNoise
}
