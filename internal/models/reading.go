package models

import "time"

// SensorReading is a single telemetry measurement received from the sensor hub.
// Readings are immutable; a later reading for the same sensor supersedes the
// stored one, it is never merged into it.
type SensorReading struct {
	SensorID  string    `json:"sensor_id"`
	Type      string    `json:"sensor_type"`
	Unit      string    `json:"unit,omitempty"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorState holds the latest known reading for one sensor plus the derived
// staleness flag. Owned by the store; callers receive copies.
type SensorState struct {
	Reading   SensorReading `json:"reading"`
	Stale     bool          `json:"stale"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Age reports how old the stored reading is relative to now.
func (s SensorState) Age(now time.Time) time.Duration {
	return now.Sub(s.Reading.Timestamp)
}
