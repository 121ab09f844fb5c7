package intelligence

import "github.com/infrasage/infrasage/internal/models"

// Anomaly thresholds. These are static and never learned.
const (
	maxUsers        = 10000
	maxDataVolumeGB = 1000
	minAvailability = 95
	manyUsers       = 1000
	littleDataGB    = 1
	fewUsers        = 10
	muchDataGB      = 100
)

// Anomaly reasons.
const (
	ReasonUserCount        = "user_count_exceeds_10000"
	ReasonDataVolume       = "data_volume_exceeds_1000gb"
	ReasonLowAvailability  = "availability_below_95"
	ReasonUsersWithoutData = "many_users_with_little_data"
	ReasonDataWithoutUsers = "few_users_with_large_data"
)

// AnomalyReport is the outcome of DetectAnomaly. Reasons is never nil.
type AnomalyReport struct {
	Anomalous bool     `json:"anomalous"`
	Reasons   []string `json:"reasons"`
}

// DetectAnomaly flags unusual request shapes with fixed thresholds. It reads
// nothing but its argument.
func DetectAnomaly(f models.Features) AnomalyReport {
	reasons := []string{}
	if f.Users > maxUsers {
		reasons = append(reasons, ReasonUserCount)
	}
	if f.DataVolume > maxDataVolumeGB {
		reasons = append(reasons, ReasonDataVolume)
	}
	if f.AvailabilityRequirement < minAvailability {
		reasons = append(reasons, ReasonLowAvailability)
	}
	if f.Users > manyUsers && f.DataVolume < littleDataGB {
		reasons = append(reasons, ReasonUsersWithoutData)
	}
	if f.Users < fewUsers && f.DataVolume > muchDataGB {
		reasons = append(reasons, ReasonDataWithoutUsers)
	}
	return AnomalyReport{Anomalous: len(reasons) > 0, Reasons: reasons}
}
