package conference

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Op is a lifecycle operation run by a Queue.
type Op func(ctx context.Context) error

// Pending is the result of a submitted operation.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending { return &Pending{done: make(chan struct{})} }

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the operation settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the operation's error. Only meaningful after Done.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the operation settled or ctx ends. Giving up on the wait
// does not cancel the operation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queued struct {
	name string
	op   Op
	p    *Pending
}

// Queue runs lifecycle operations one at a time in submission order. Each
// operation starts only after the previous one returned, whatever its result.
type Queue struct {
	ctx context.Context

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []queued
	closed bool

	done chan struct{}
}

// NewQueue starts the worker. Operations receive ctx, so cancelling it is the
// only way to abort work already queued.
func NewQueue(ctx context.Context) *Queue {
	q := &Queue{ctx: ctx, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit appends op to the queue.
func (q *Queue) Submit(name string, op Op) *Pending {
	p := newPending()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		p.finish(ErrQueueClosed)
		return p
	}
	q.ops = append(q.ops, queued{name: name, op: op, p: p})
	depth := len(q.ops)
	q.cond.Signal()
	q.mu.Unlock()

	log.Debug().Str("module", "conference.queue").Str("op", name).Int("depth", depth).Msg("submitted")
	return p
}

// Do submits op and waits for its result.
func (q *Queue) Do(ctx context.Context, name string, op Op) error {
	return q.Submit(name, op).Wait(ctx)
}

// Len reports how many operations are waiting, not counting a running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close stops accepting operations, lets the queued ones finish and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.ops[0]
		q.ops[0] = queued{}
		q.ops = q.ops[1:]
		q.mu.Unlock()

		item.p.finish(q.exec(item))
	}
}

func (q *Queue) exec(item queued) (err error) {
	logger := log.With().Str("module", "conference.queue").Str("op", item.name).Logger()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", item.name, r)
		}
		if err != nil {
			logger.Error().Err(err).Msg("operation failed")
		} else {
			logger.Debug().Msg("operation done")
		}
	}()
	logger.Debug().Msg("operation started")
	return item.op(q.ctx)
}
