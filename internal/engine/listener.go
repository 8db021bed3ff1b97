package engine

import "sync"

type listenerFunc struct {
	once    sync.Once
	release func()
}

// NewListener wraps release so that it runs at most once.
func NewListener(release func()) Listener {
	return &listenerFunc{release: release}
}

func (l *listenerFunc) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

// HandlerSet is a registry of event handlers of type F, for engine
// implementations.
type HandlerSet[F any] struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]F
}

// Add registers fn and returns the handle that removes it.
func (s *HandlerSet[F]) Add(fn F) Listener {
	s.mu.Lock()
	if s.handlers == nil {
		s.handlers = make(map[uint64]F)
	}
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.mu.Unlock()

	return NewListener(func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	})
}

// Snapshot returns the handlers registered right now, in registration order.
func (s *HandlerSet[F]) Snapshot() []F {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]F, 0, len(s.handlers))
	for id := uint64(0); id < s.next; id++ {
		if fn, ok := s.handlers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Len reports how many handlers are registered.
func (s *HandlerSet[F]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}
