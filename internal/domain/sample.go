package domain

import "time"

// SourceBaseline tags the sample collected before any traffic shift. All
// other samples carry the name of the stage they were observed under.
const SourceBaseline = "baseline"

// MetricSample is a point-in-time health reading for a service. Samples are
// immutable once created and appended to the owning session in the order
// they were collected.
type MetricSample struct {
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	ErrorRate      float64   `json:"errorRate"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Throughput     float64   `json:"throughput"`
}
