package alerting

import "math"

// PriorityFeatures is the snapshot a priority score was computed from.
type PriorityFeatures struct {
	SeverityScore   int `json:"severity_score"`
	SuppressedCount int `json:"suppressed_count"`
	ClusterSize     int `json:"cluster_size"`
}

const (
	prioritySeverityWeight = 16
	priorityRepeatCap      = 10
	prioritySpreadCap      = 10
)

// Score returns a 0..100 priority: severity dominates (16..80), repeats
// and cluster spread add up to 10 points each.
func (f PriorityFeatures) Score() float64 {
	sev := float64(f.SeverityScore * prioritySeverityWeight)
	repeats := math.Min(float64(f.SuppressedCount), priorityRepeatCap)
	spread := 0.0
	if f.ClusterSize > 1 {
		spread = math.Min(float64(f.ClusterSize-1), prioritySpreadCap)
	}
	return sev + repeats + spread
}

// reprioritize refreshes the priority snapshot and score on e.
func reprioritize(e *Event, clusterSize int) {
	if clusterSize < 1 {
		clusterSize = 1
	}
	e.PriorityFeatures = PriorityFeatures{
		SeverityScore:   e.Severity.Score(),
		SuppressedCount: e.SuppressedCount,
		ClusterSize:     clusterSize,
	}
	e.PriorityScore = e.PriorityFeatures.Score()
}
