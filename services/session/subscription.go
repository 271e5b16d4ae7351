package session

import "sync"

// Subscription receives the authenticated status of one store.
// The latest value is replayed on subscribe; a slow reader skips
// intermediate values and only sees the most recent one.
type Subscription struct {
	ch    chan bool
	store *Store
	once  sync.Once
}

// C returns the status channel. It is closed by Close or when the manager closes.
func (sub *Subscription) C() <-chan bool {
	return sub.ch
}

// Close unregisters the subscription
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	delete(sub.store.subs, sub)
	sub.closeChan()
}

func (sub *Subscription) closeChan() {
	sub.once.Do(func() { close(sub.ch) })
}

// offer replaces any unread value with v. Callers hold the store mutex,
// which makes them the only sender, so the send never blocks.
func (sub *Subscription) offer(v bool) {
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- v
}

// Subscribe registers for status changes, starting with the current value
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{
		ch:    make(chan bool, 1),
		store: s,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ch <- s.current
	if s.closed {
		sub.closeChan()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Authenticated returns the last published status without reading storage
func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) publishLocked(v bool) {
	s.current = v
	if s.closed {
		return
	}
	for sub := range s.subs {
		sub.offer(v)
	}
}

// idle reports whether the store can be evicted
func (s *Store) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.subs) == 0
}

func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.closeChan()
	}
	s.subs = nil
}
