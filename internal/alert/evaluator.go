package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

type condKey struct {
	sensorID string
	rule     string
}

// condition tracks one (sensor, rule) pair: armed (may fire) or tripped
// (fired, cooling down). cleared records that the value re-entered the
// non-alerting range since the trip; re-arming requires both cleared and the
// re-arm interval elapsed since trippedAt.
type condition struct {
	tripped   bool
	cleared   bool
	trippedAt time.Time
}

// Evaluator runs the configured rule set against sensor state transitions.
// Each Armed->Tripped transition emits exactly one AlertEvent; Tripped->Armed
// requires the value back in range and the re-arm interval elapsed, and is
// silent unless the rule opts into recovery notifications.
type Evaluator struct {
	rules  []models.AlertRule
	mu     sync.Mutex
	conds  map[condKey]*condition
	logger *logging.Logger
	now    func() time.Time
}

// New validates the rule set and constructs an Evaluator. An invalid rule
// set is a startup failure.
func New(rules []models.AlertRule, logger *logging.Logger) (*Evaluator, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("alert evaluator: %w", err)
		}
	}
	return &Evaluator{
		rules:  rules,
		conds:  make(map[condKey]*condition),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Rules returns the configured rule set.
func (e *Evaluator) Rules() []models.AlertRule {
	return e.rules
}

// Evaluate runs every matching rule against the given state and returns the
// alert events produced by the resulting transitions. A failure in one rule
// is logged and never blocks evaluation of the others.
func (e *Evaluator) Evaluate(st models.SensorState) []models.AlertEvent {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []models.AlertEvent
	for _, rule := range e.rules {
		if !rule.Matches(st.Reading.SensorID) {
			continue
		}
		evt, err := e.evalRule(rule, st, now)
		if err != nil {
			e.logger.Errorf("Rule %q skipped for sensor %s: %v", rule.Name, st.Reading.SensorID, err)
			continue
		}
		if evt != nil {
			events = append(events, *evt)
		}
	}
	return events
}

func (e *Evaluator) evalRule(rule models.AlertRule, st models.SensorState, now time.Time) (*models.AlertEvent, error) {
	switch rule.Predicate {
	case models.PredEQ, models.PredNEQ, models.PredGT, models.PredGTE,
		models.PredLT, models.PredLTE, models.PredStale:
	default:
		return nil, fmt.Errorf("unknown predicate %q", rule.Predicate)
	}

	key := condKey{sensorID: st.Reading.SensorID, rule: rule.Name}
	cond, ok := e.conds[key]
	if !ok {
		cond = &condition{}
		e.conds[key] = cond
	}

	holds := rule.Holds(st.Reading.Value, st.Stale)

	if cond.tripped {
		if !holds {
			cond.cleared = true
		}
		// Re-arm only once the value has been back in range AND the re-arm
		// interval has elapsed since the trip; this prevents flapping.
		if !cond.cleared || now.Sub(cond.trippedAt) < rule.Rearm() {
			return nil, nil
		}
		cond.tripped = false
		cond.cleared = false
		if !holds {
			if rule.NotifyRecovery {
				return &models.AlertEvent{
					ID:        uuid.New(),
					Rule:      rule,
					Reading:   st.Reading,
					Recovered: true,
					At:        now,
				}, nil
			}
			return nil, nil
		}
		// The current reading is alerting again: fall through to re-trip.
	}

	if holds {
		cond.tripped = true
		cond.trippedAt = now
		return &models.AlertEvent{
			ID:      uuid.New(),
			Rule:    rule,
			Reading: st.Reading,
			At:      now,
		}, nil
	}
	return nil, nil
}
