// Package listener provides typed, concurrency-safe listener sets.
package listener

import (
	"fmt"
	"log/slog"
	"sync"
)

// Func receives one dispatched value.
type Func[T any] func(T)

// Handle identifies a registration for later removal.
type Handle uint64

type entry[T any] struct {
	handle Handle
	fn     Func[T]
}

// Set is an ordered list of listeners for one update kind. Listeners run in
// registration order on the dispatching goroutine; a panicking listener is
// logged and does not stop the remaining ones.
type Set[T any] struct {
	name    string
	mu      sync.RWMutex
	entries []entry[T]
	next    Handle
	onPanic func(name string, recovered any)
}

// NewSet creates an empty set. name shows up in logs.
func NewSet[T any](name string) *Set[T] {
	return &Set[T]{name: name}
}

// OnPanic installs a hook invoked after a listener panic was recovered.
func (s *Set[T]) OnPanic(fn func(name string, recovered any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = fn
}

// Add registers fn and returns its handle.
func (s *Set[T]) Add(fn Func[T]) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.entries = append(s.entries, entry[T]{handle: s.next, fn: fn})
	return s.next
}

// Remove deregisters the listener behind h. It reports whether it was present.
func (s *Set[T]) Remove(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.handle == h {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dispatch invokes every listener registered at call time with v.
func (s *Set[T]) Dispatch(v T) {
	s.mu.RLock()
	snapshot := make([]entry[T], len(s.entries))
	copy(snapshot, s.entries)
	onPanic := s.onPanic
	s.mu.RUnlock()

	for _, e := range snapshot {
		s.invoke(e, v, onPanic)
	}
}

func (s *Set[T]) invoke(e entry[T], v T, onPanic func(string, any)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Listener panic recovered", "listener_set", s.name, "handle", e.handle, "panic", fmt.Sprint(r))
			if onPanic != nil {
				onPanic(s.name, r)
			}
		}
	}()
	e.fn(v)
}
