package models

import (
	"fmt"
	"time"
)

// Predicate is the comparison applied by an alert rule.
type Predicate string

const (
	PredEQ  Predicate = "EQ"
	PredNEQ Predicate = "NEQ"
	PredGT  Predicate = "GT"
	PredGTE Predicate = "GTE"
	PredLT  Predicate = "LT"
	PredLTE Predicate = "LTE"
	// PredStale trips when the sensor's reading goes stale; the threshold is ignored.
	PredStale Predicate = "STALE"
)

// WildcardSensor matches every sensor identifier in a rule or subscription target.
const WildcardSensor = "*"

// AlertRule is one configured alerting rule. Rules are read-only at runtime;
// the set is validated once at startup.
type AlertRule struct {
	Name           string    `json:"name"`
	SensorID       string    `json:"sensor_id"`
	Predicate      Predicate `json:"predicate"`
	Threshold      float64   `json:"threshold"`
	RearmSeconds   int       `json:"rearm_seconds"`
	NotifyRecovery bool      `json:"notify_recovery,omitempty"`
}

// Rearm returns the minimum interval that must elapse after a trip before the
// rule may re-arm.
func (r AlertRule) Rearm() time.Duration {
	return time.Duration(r.RearmSeconds) * time.Second
}

// Matches reports whether the rule applies to the given sensor identifier.
func (r AlertRule) Matches(sensorID string) bool {
	return r.SensorID == WildcardSensor || r.SensorID == sensorID
}

// Holds reports whether the rule's predicate is satisfied by the given state.
func (r AlertRule) Holds(value float64, stale bool) bool {
	switch r.Predicate {
	case PredEQ:
		return value == r.Threshold
	case PredNEQ:
		return value != r.Threshold
	case PredGT:
		return value > r.Threshold
	case PredGTE:
		return value >= r.Threshold
	case PredLT:
		return value < r.Threshold
	case PredLTE:
		return value <= r.Threshold
	case PredStale:
		return stale
	default:
		return false
	}
}

// Class names the alert class a rule belongs to, used for wildcard subscriptions.
func (r AlertRule) Class() string {
	if r.Predicate == PredStale {
		return ClassStale
	}
	return ClassThreshold
}

// Validate checks the rule configuration. An invalid rule set is fatal at startup.
func (r AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.SensorID == "" {
		return fmt.Errorf("rule %q: sensor_id is required (use %q for all sensors)", r.Name, WildcardSensor)
	}
	switch r.Predicate {
	case PredEQ, PredNEQ, PredGT, PredGTE, PredLT, PredLTE, PredStale:
	default:
		return fmt.Errorf("rule %q: unknown predicate %q", r.Name, r.Predicate)
	}
	if r.RearmSeconds <= 0 {
		return fmt.Errorf("rule %q: rearm_seconds must be positive, got %d", r.Name, r.RearmSeconds)
	}
	return nil
}
