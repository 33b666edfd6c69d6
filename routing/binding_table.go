package routing

import (
	"sort"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
)

// Binding is a queue's subscription to an exchange through a routing pattern
type Binding struct {
	Queue   string
	Pattern string
}

// bindingSnapshot is never modified once published; writers copy it
type bindingSnapshot struct {
	byQueue map[string]mapset.Set[string]
}

// BindingTable maps bound queues to their patterns for one exchange.
// Readers always see one consistent snapshot; Bind and Unbind copy the
// table and swap it in.
type BindingTable struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[bindingSnapshot]
}

// NewBindingTable creates an empty binding table
func NewBindingTable() *BindingTable {
	t := &BindingTable{}
	t.snapshot.Store(&bindingSnapshot{byQueue: make(map[string]mapset.Set[string])})
	return t
}

// Bind adds a (queue, pattern) binding. It returns false if the binding
// already existed.
func (t *BindingTable) Bind(queue, pattern string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot.Load()
	if patterns, ok := current.byQueue[queue]; ok && patterns.Contains(pattern) {
		return false
	}

	next := current.copyWith(queue)
	next.byQueue[queue].Add(pattern)
	t.snapshot.Store(next)
	return true
}

// Unbind removes a (queue, pattern) binding. Removing a binding that does not
// exist is a no-op and returns false.
func (t *BindingTable) Unbind(queue, pattern string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot.Load()
	patterns, ok := current.byQueue[queue]
	if !ok || !patterns.Contains(pattern) {
		return false
	}

	next := current.copyWith(queue)
	next.byQueue[queue].Remove(pattern)
	if next.byQueue[queue].Cardinality() == 0 {
		delete(next.byQueue, queue)
	}
	t.snapshot.Store(next)
	return true
}

// RemoveQueue drops every binding of queue and returns how many were removed
func (t *BindingTable) RemoveQueue(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot.Load()
	patterns, ok := current.byQueue[queue]
	if !ok {
		return 0
	}

	next := &bindingSnapshot{byQueue: make(map[string]mapset.Set[string], len(current.byQueue))}
	for q, p := range current.byQueue {
		if q != queue {
			next.byQueue[q] = p
		}
	}
	t.snapshot.Store(next)
	return patterns.Cardinality()
}

// MatchesFor returns the queues a message with routingKey reaches on an
// exchange of the given type
func (t *BindingTable) MatchesFor(routingKey string, kind ExchangeType) mapset.Set[string] {
	return t.snapshot.Load().matches(routingKey, kind)
}

// Bindings returns all bindings sorted by queue and pattern
func (t *BindingTable) Bindings() []Binding {
	current := t.snapshot.Load()

	bindings := make([]Binding, 0, len(current.byQueue))
	for queue, patterns := range current.byQueue {
		for _, pattern := range patterns.ToSlice() {
			bindings = append(bindings, Binding{Queue: queue, Pattern: pattern})
		}
	}

	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].Queue != bindings[j].Queue {
			return bindings[i].Queue < bindings[j].Queue
		}
		return bindings[i].Pattern < bindings[j].Pattern
	})
	return bindings
}

// Len returns the number of bindings
func (t *BindingTable) Len() int {
	n := 0
	for _, patterns := range t.snapshot.Load().byQueue {
		n += patterns.Cardinality()
	}
	return n
}

// copyWith shallow-copies the snapshot and gives queue its own pattern set
func (s *bindingSnapshot) copyWith(queue string) *bindingSnapshot {
	next := &bindingSnapshot{byQueue: make(map[string]mapset.Set[string], len(s.byQueue)+1)}
	for q, p := range s.byQueue {
		next.byQueue[q] = p
	}
	if patterns, ok := s.byQueue[queue]; ok {
		next.byQueue[queue] = patterns.Clone()
	} else {
		next.byQueue[queue] = mapset.NewThreadUnsafeSet[string]()
	}
	return next
}

func (s *bindingSnapshot) matches(routingKey string, kind ExchangeType) mapset.Set[string] {
	result := mapset.NewThreadUnsafeSet[string]()

	for queue, patterns := range s.byQueue {
		switch kind {
		case ExchangeFanout:
			result.Add(queue)
		case ExchangeDirect:
			if patterns.Contains(routingKey) {
				result.Add(queue)
			}
		case ExchangeTopic:
			patterns.Each(func(pattern string) bool {
				if MatchTopic(pattern, routingKey) {
					result.Add(queue)
					return true
				}
				return false
			})
		}
	}

	return result
}
