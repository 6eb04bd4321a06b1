package sidecar

import (
	"sync"
	"sync/atomic"

	"lyra/internal/protocol"
)

// Listener receives each parsed engine message.
type Listener func(protocol.Message)

type subscription struct {
	fn      Listener
	removed atomic.Bool
}

// subscribers notifies listeners in registration order. Listeners may
// unsubscribe themselves or others during a notification.
type subscribers struct {
	mu   sync.Mutex
	list []*subscription
}

func (s *subscribers) add(fn Listener) func() {
	sub := &subscription{fn: fn}

	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, candidate := range s.list {
				if candidate == sub {
					s.list = append(s.list[:i:i], s.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers) notify(msg protocol.Message) {
	s.mu.Lock()
	snapshot := make([]*subscription, len(s.list))
	copy(snapshot, s.list)
	s.mu.Unlock()

	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		sub.fn(msg)
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
