package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

// SubscriptionStore persists subscriptions across restarts. Optional; a nil
// store keeps the registry purely in-memory.
type SubscriptionStore interface {
	Save(ctx context.Context, sub models.Subscription) error
	Delete(ctx context.Context, sub models.Subscription) error
	LoadAll(ctx context.Context) ([]models.Subscription, error)
}

// Registry maps chat identities to the targets they opted into. Targets name
// either a specific sensor or an alert class; the two tiers are kept in
// separate maps and unioned at read time.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]map[int64]bool // sensor id -> chat set
	wildcard map[string]map[int64]bool // alert class -> chat set
	store    SubscriptionStore
	logger   *logging.Logger
}

func New(logger *logging.Logger) *Registry {
	return &Registry{
		exact:    make(map[string]map[int64]bool),
		wildcard: make(map[string]map[int64]bool),
		logger:   logger,
	}
}

// WithStore attaches a persistence backend and loads the stored subscriptions.
func (r *Registry) WithStore(ctx context.Context, store SubscriptionStore) error {
	subs, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, sub := range subs {
		r.add(sub.ChatID, sub.Target)
	}
	r.store = store
	r.logger.Infof("Loaded %d persisted subscriptions", len(subs))
	return nil
}

// IsClass reports whether a target names an alert class rather than a sensor.
func IsClass(target string) bool {
	switch target {
	case models.WildcardSensor, models.ClassThreshold, models.ClassStale:
		return true
	}
	return false
}

// Subscribe opts a chat into a target. Idempotent; returns false when the
// subscription already existed.
func (r *Registry) Subscribe(ctx context.Context, chatID int64, target string) bool {
	added := r.add(chatID, target)
	if added && r.store != nil {
		if err := r.store.Save(ctx, models.Subscription{ChatID: chatID, Target: target}); err != nil {
			r.logger.Errorf("Failed to persist subscription %d -> %s: %v", chatID, target, err)
		}
	}
	return added
}

// Unsubscribe removes a subscription. Removing a non-existent subscription
// is a no-op, not an error.
func (r *Registry) Unsubscribe(ctx context.Context, chatID int64, target string) bool {
	r.mu.Lock()
	tier := r.tier(target)
	removed := false
	if set, ok := tier[target]; ok && set[chatID] {
		delete(set, chatID)
		if len(set) == 0 {
			delete(tier, target)
		}
		removed = true
	}
	r.mu.Unlock()

	if removed && r.store != nil {
		if err := r.store.Delete(ctx, models.Subscription{ChatID: chatID, Target: target}); err != nil {
			r.logger.Errorf("Failed to remove persisted subscription %d -> %s: %v", chatID, target, err)
		}
	}
	return removed
}

// Subscribers returns every chat subscribed to the given sensor, the given
// alert class, or everything. The result is the union of both tiers, each
// chat at most once.
func (r *Registry) Subscribers(sensorID, class string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]bool)
	for chat := range r.exact[sensorID] {
		seen[chat] = true
	}
	for chat := range r.wildcard[class] {
		seen[chat] = true
	}
	for chat := range r.wildcard[models.WildcardSensor] {
		seen[chat] = true
	}
	out := make([]int64, 0, len(seen))
	for chat := range seen {
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscriptions returns the targets a chat has opted into, sorted.
func (r *Registry) Subscriptions(chatID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for target, set := range r.exact {
		if set[chatID] {
			out = append(out, target)
		}
	}
	for target, set := range r.wildcard {
		if set[chatID] {
			out = append(out, target)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) add(chatID int64, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tier := r.tier(target)
	set, ok := tier[target]
	if !ok {
		set = make(map[int64]bool)
		tier[target] = set
	}
	if set[chatID] {
		return false
	}
	set[chatID] = true
	return true
}

// tier must be called with the mutex held.
func (r *Registry) tier(target string) map[string]map[int64]bool {
	if IsClass(target) {
		return r.wildcard
	}
	return r.exact
}
