package identity

import (
	"context"
	"sync"
)

// Notifier keeps the listener set for a Provider implementation.
// The zero value is ready to use.
type Notifier struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
}

// Subscribe registers l until the returned Subscription is cancelled.
func (n *Notifier) Subscribe(l Listener) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners == nil {
		n.listeners = make(map[int]Listener)
	}
	id := n.next
	n.next++
	n.listeners[id] = l

	return &subscription{notifier: n, id: id}
}

// Emit calls every registered listener. It must not be called while the
// caller holds a lock a listener could need.
func (n *Notifier) Emit(ctx context.Context, event AuthEvent, session *Session) {
	n.mu.Lock()
	listeners := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l(ctx, event, session)
	}
}

// Len returns the number of active listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

type subscription struct {
	notifier *Notifier
	id       int
	once     sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.notifier.mu.Lock()
		delete(s.notifier.listeners, s.id)
		s.notifier.mu.Unlock()
	})
}
