package engine

import "sync"

// StateNotifier holds a ConnectionState and tells subscribers about every
// transition. Transitions reach subscribers in the order they happened.
type StateNotifier struct {
	// notifyMu spans a change and its notification. Handlers must not call
	// Set or CompareAndSet.
	notifyMu sync.Mutex
	mu       sync.Mutex
	state    ConnectionState
	handlers HandlerSet[StateHandler]
}

func (n *StateNotifier) State() ConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Set moves to s and notifies subscribers if the state changed.
func (n *StateNotifier) Set(s ConnectionState) {
	n.notifyMu.Lock()
	defer n.notifyMu.Unlock()

	n.mu.Lock()
	prev := n.state
	n.state = s
	n.mu.Unlock()
	if prev != s {
		n.notify(prev, s)
	}
}

// CompareAndSet moves from old to s only if the current state is old.
func (n *StateNotifier) CompareAndSet(old, s ConnectionState) bool {
	n.notifyMu.Lock()
	defer n.notifyMu.Unlock()

	n.mu.Lock()
	if n.state != old {
		n.mu.Unlock()
		return false
	}
	n.state = s
	n.mu.Unlock()
	if old != s {
		n.notify(old, s)
	}
	return true
}

func (n *StateNotifier) notify(prev, cur ConnectionState) {
	for _, fn := range n.handlers.Snapshot() {
		fn(prev, cur)
	}
}

func (n *StateNotifier) Subscribe(fn StateHandler) Listener {
	return n.handlers.Add(fn)
}
