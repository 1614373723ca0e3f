package topic

import "sync"

// Matcher tracks the set of registered patterns and resolves which of them
// match a concrete topic. Exact patterns are a map lookup; wildcard patterns
// are scanned. It is safe for concurrent use.
type Matcher struct {
	mu        sync.RWMutex
	exact     map[Topic]int
	wildcards map[Topic]int
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		exact:     make(map[Topic]int),
		wildcards: make(map[Topic]int),
	}
}

// Add registers one reference to pattern. A pattern added N times must be
// removed N times before it stops matching.
func (m *Matcher) Add(pattern Topic) {
	if pattern == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(pattern)[pattern]++
}

// Remove drops one reference to pattern.
func (m *Matcher) Remove(pattern Topic) {
	if pattern == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.set(pattern)
	if set[pattern] <= 1 {
		delete(set, pattern)
		return
	}
	set[pattern]--
}

// Has returns true if pattern has at least one reference.
func (m *Matcher) Has(pattern Topic) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set(pattern)[pattern] > 0
}

// Match returns every registered pattern that matches eventTopic.
// The exact pattern, if present, comes first.
func (m *Matcher) Match(eventTopic Topic) []Topic {
	if eventTopic == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Topic
	if m.exact[eventTopic] > 0 {
		matches = append(matches, eventTopic)
	}
	for pattern := range m.wildcards {
		if eventTopic.Matches(pattern) {
			matches = append(matches, pattern)
		}
	}
	return matches
}

// Len returns the number of distinct patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exact) + len(m.wildcards)
}

// Clear removes every pattern.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exact = make(map[Topic]int)
	m.wildcards = make(map[Topic]int)
}

func (m *Matcher) set(pattern Topic) map[Topic]int {
	if pattern.IsWildcard() {
		return m.wildcards
	}
	return m.exact
}
