package arena

import "time"

// TimePoint marks one labeled instant in a battle's lifecycle.
type TimePoint struct {
	Label string  `json:"label"`
	Time  float64 `json:"unix_time"`
}

// Timings is the ordered trail of TimePoints recorded while a battle is
// assembled. Labels follow the order the gateway hit them in.
type Timings []TimePoint

// Mark appends a labeled point at the current wall clock.
func (t Timings) Mark(label string) Timings {
	return append(t, TimePoint{Label: label, Time: float64(time.Now().UnixNano()) / float64(time.Second)})
}

// MarkAt appends a labeled point at an explicit instant.
func (t Timings) MarkAt(label string, at time.Time) Timings {
	return append(t, TimePoint{Label: label, Time: float64(at.UnixNano()) / float64(time.Second)})
}
