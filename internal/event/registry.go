package event

import (
	"sort"
	"sync"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Registry holds every subscription, keyed by topic pattern and by ID.
// It is the only shared mutable state of the bus. All reads return copies so
// callers can iterate while handlers subscribe and unsubscribe.
type Registry struct {
	mu      sync.RWMutex
	subs    map[topic.Topic][]*subscription
	byID    map[string]*subscription
	matcher *topic.Matcher
}

// NewRegistry creates a new subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:    make(map[topic.Topic][]*subscription),
		byID:    make(map[string]*subscription),
		matcher: topic.NewMatcher(),
	}
}

// Add registers a subscription. Every call adds a distinct entry; adding the
// same handler twice yields two deliveries per publish.
func (r *Registry) Add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.Topic()] = append(r.subs[sub.Topic()], sub)
	r.byID[sub.ID()] = sub
	r.matcher.Add(sub.Topic())
}

// Remove removes exactly the subscription with the given ID.
func (r *Registry) Remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.byID[subID]
	if !exists {
		return false
	}

	pattern := sub.Topic()
	subs := r.subs[pattern]
	for i, s := range subs {
		if s.ID() == subID {
			// Copy instead of shifting in place: snapshots handed out
			// earlier may share the old backing array.
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			r.subs[pattern] = next
			break
		}
	}

	if len(r.subs[pattern]) == 0 {
		delete(r.subs, pattern)
	}
	r.matcher.Remove(pattern)
	delete(r.byID, subID)

	return true
}

// Get returns a subscription by ID.
func (r *Registry) Get(subID string) (*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.byID[subID]
	return sub, exists
}

// Match returns a snapshot of every subscription whose pattern matches
// eventTopic, ordered by priority and then by subscription order.
func (r *Registry) Match(eventTopic topic.Topic) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := r.matcher.Match(eventTopic)
	if len(patterns) == 0 {
		return nil
	}

	var all []*subscription
	for _, pattern := range patterns {
		all = append(all, r.subs[pattern]...)
	}
	if len(all) == 0 {
		return nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := all[i].Config().Priority, all[j].Config().Priority
		if pi != pj {
			return pi < pj
		}
		return all[i].seq < all[j].seq
	})

	return all
}

// MatchActive is Match without paused and cancelled subscriptions.
func (r *Registry) MatchActive(eventTopic topic.Topic) []*subscription {
	all := r.Match(eventTopic)
	if len(all) == 0 {
		return nil
	}

	result := make([]*subscription, 0, len(all))
	for _, sub := range all {
		if sub.IsActive() {
			result = append(result, sub)
		}
	}
	return result
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// MatchExact returns a snapshot of the active subscriptions registered on
// exactly t, in priority and subscription order. Wildcard patterns never
// match.
func (r *Registry) MatchExact(t topic.Topic) []*subscription {
	r.mu.RLock()
	subs := r.subs[t]
	result := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.IsActive() {
			result = append(result, sub)
		}
	}
	r.mu.RUnlock()

	if len(result) == 0 {
		return nil
	}
	sort.SliceStable(result, func(i, j int) bool {
		pi, pj := result[i].Config().Priority, result[j].Config().Priority
		if pi != pj {
			return pi < pj
		}
		return result[i].seq < result[j].seq
	})
	return result
}

// CountByTopic returns the number of active subscriptions registered on
// exactly this pattern.
func (r *Registry) CountByTopic(pattern topic.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.subs[pattern] {
		if sub.IsActive() {
			count++
		}
	}
	return count
}

// CountActive returns the number of active subscriptions.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.byID {
		if sub.IsActive() {
			count++
		}
	}
	return count
}
