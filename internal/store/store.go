package store

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

// ErrNotFound is returned by Get for sensors no reading has ever arrived for.
var ErrNotFound = errors.New("sensor not found")

// Store keeps the latest known state per sensor identifier. All mutation is
// serialized through the mutex; updates for one identifier are strictly
// ordered and late readings are dropped.
type Store struct {
	mu        sync.RWMutex
	states    map[string]models.SensorState
	threshold time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

func New(threshold time.Duration, logger *logging.Logger) *Store {
	return &Store{
		states:    make(map[string]models.SensorState),
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Update replaces the stored state for the reading's sensor iff the incoming
// timestamp is newer than the stored one. Returns false when the reading was
// dropped as out-of-order.
func (s *Store) Update(r models.SensorReading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[r.SensorID]; ok && !r.Timestamp.After(cur.Reading.Timestamp) {
		s.logger.Debugf("Dropped out-of-order reading for %s (incoming %v <= stored %v)",
			r.SensorID, r.Timestamp, cur.Reading.Timestamp)
		return false
	}
	s.states[r.SensorID] = models.SensorState{
		Reading:   r,
		Stale:     false,
		UpdatedAt: s.now(),
	}
	return true
}

// Get returns the current state for a sensor or ErrNotFound.
func (s *Store) Get(sensorID string) (models.SensorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sensorID]
	if !ok {
		return models.SensorState{}, ErrNotFound
	}
	return st, nil
}

// All iterates over a snapshot of all known sensor states. The sequence is
// finite and restartable; iteration never observes concurrent mutation.
func (s *Store) All() iter.Seq[models.SensorState] {
	return func(yield func(models.SensorState) bool) {
		for _, st := range s.snapshot() {
			if !yield(st) {
				return
			}
		}
	}
}

// IDs returns all known sensor identifiers, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of sensors with known state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Sweep recomputes stale flags and returns the states that newly went stale
// in this pass, for evaluation as staleness events.
func (s *Store) Sweep() []models.SensorState {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var newlyStale []models.SensorState
	for id, st := range s.states {
		if st.Stale || st.Age(now) <= s.threshold {
			continue
		}
		st.Stale = true
		s.states[id] = st
		newlyStale = append(newlyStale, st)
	}
	return newlyStale
}

// RunSweeper runs the periodic staleness sweep until ctx is cancelled,
// invoking onStale once for each state that newly went stale.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onStale func(models.SensorState)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Staleness sweeper stopped")
			return
		case <-ticker.C:
			for _, st := range s.Sweep() {
				s.logger.Warnf("Sensor %s went stale (last reading %v)", st.Reading.SensorID, st.Reading.Timestamp)
				onStale(st)
			}
		}
	}
}

func (s *Store) snapshot() []models.SensorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SensorState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Reading.SensorID < out[j].Reading.SensorID
	})
	return out
}
