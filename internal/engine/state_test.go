package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNotifier(t *testing.T) {
	var n StateNotifier
	assert.Equal(t, Disconnected, n.State())

	var seen [][2]ConnectionState
	l := n.Subscribe(func(prev, cur ConnectionState) {
		seen = append(seen, [2]ConnectionState{prev, cur})
	})

	n.Set(Connecting)
	n.Set(Connecting)
	n.Set(Connected)
	assert.Equal(t, [][2]ConnectionState{
		{Disconnected, Connecting},
		{Connecting, Connected},
	}, seen)

	l.Release()
	l.Release()
	n.Set(Disconnected)
	assert.Len(t, seen, 2)
}

func TestStateNotifierCompareAndSet(t *testing.T) {
	var n StateNotifier
	assert.False(t, n.CompareAndSet(Connected, Disconnecting))
	assert.True(t, n.CompareAndSet(Disconnected, Connecting))
	assert.Equal(t, Connecting, n.State())
}

func TestStateNotifierOrderUnderConcurrentSets(t *testing.T) {
	var n StateNotifier
	var seen [][2]ConnectionState
	n.Subscribe(func(prev, cur ConnectionState) {
		seen = append(seen, [2]ConnectionState{prev, cur})
	})

	states := []ConnectionState{Connecting, Connected, Disconnecting, Disconnected}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n.Set(states[(i+j)%len(states)])
			}
		}()
	}
	wg.Wait()

	// Each transition starts where the previous one ended.
	prev := Disconnected
	for _, tr := range seen {
		assert.Equal(t, prev, tr[0])
		assert.NotEqual(t, tr[0], tr[1])
		prev = tr[1]
	}
	assert.Equal(t, n.State(), prev)
}

func TestHandlerSetOrder(t *testing.T) {
	var s HandlerSet[func() int]
	a := s.Add(func() int { return 1 })
	s.Add(func() int { return 2 })
	s.Add(func() int { return 3 })
	a.Release()

	var got []int
	for _, fn := range s.Snapshot() {
		got = append(got, fn())
	}
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 2, s.Len())
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "UNKNOWN", ConnectionState(42).String())
}
