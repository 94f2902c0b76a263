// Package signal provides typed notification signals with explicit
// subscription handles.
//
// Ownership boundary:
// - listener registration and removal
// - ordered delivery to live listeners
//
// Signals are not safe for concurrent use. Callers serialize access on the
// goroutine that owns the emitting object.
package signal

// Signal delivers values of type T to subscribed listeners in subscription
// order.
type Signal[T any] struct {
	listeners []*Listener[T]
}

// Listener is one subscription to a Signal.
type Listener[T any] struct {
	signal *Signal[T]
	notify func(T)
}

// Subscribe registers fn and returns the handle that removes it.
func (s *Signal[T]) Subscribe(fn func(T)) *Listener[T] {
	l := &Listener[T]{signal: s, notify: fn}
	s.listeners = append(s.listeners, l)
	return l
}

// Remove unsubscribes the listener. Removing twice is a no-op.
func (l *Listener[T]) Remove() {
	if l == nil || l.signal == nil {
		return
	}
	s := l.signal
	l.signal = nil
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Active reports whether the listener is still subscribed.
func (l *Listener[T]) Active() bool {
	return l != nil && l.signal != nil
}

// Emit notifies every listener subscribed at the time of the call.
// Listeners removed by an earlier callback in the same emission are skipped.
func (s *Signal[T]) Emit(v T) {
	snapshot := make([]*Listener[T], len(s.listeners))
	copy(snapshot, s.listeners)
	for _, l := range snapshot {
		if l.signal != s {
			continue
		}
		l.notify(v)
	}
}

// Len returns the number of subscribed listeners.
func (s *Signal[T]) Len() int {
	return len(s.listeners)
}
