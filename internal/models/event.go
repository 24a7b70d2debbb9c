package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert classes for wildcard subscriptions.
const (
	ClassThreshold = "threshold"
	ClassStale     = "stale"
)

// AlertEvent is emitted exactly once per Armed->Tripped transition of a rule.
// Recovered events are emitted on Tripped->Armed only when the rule opts in.
type AlertEvent struct {
	ID        uuid.UUID     `json:"id"`
	Rule      AlertRule     `json:"rule"`
	Reading   SensorReading `json:"reading"`
	Recovered bool          `json:"recovered"`
	At        time.Time     `json:"at"`
}

// DedupKey identifies this transition for outbound deduplication: retried or
// fanned-out sends of the same transition share the key, distinct transitions
// never do.
func (e AlertEvent) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", e.Reading.SensorID, e.Rule.Name, e.ID)
}
