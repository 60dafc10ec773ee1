// Package taskqueue provides the serialized event loop each manager owns.
//
// Tasks posted to a Queue run one at a time on a single goroutine in post
// order. Delayed tasks are keyed so a pending timeout can be cancelled or
// replaced. Remote death callbacks and timers never touch manager state
// directly; they post here.
package taskqueue

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when posting to a closed queue.
var ErrClosed = errors.New("task queue is closed")

// Queue is an unbounded single-consumer task queue.
type Queue struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	pending []func()
	timers  map[string]*time.Timer
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New starts a queue worker.
func New(name string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		name:   name,
		logger: logger,
		timers: make(map[string]*time.Timer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Post enqueues fn.
func (q *Queue) Post(fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// PostDelayed enqueues fn after delay under key. A pending task with the
// same key is replaced.
func (q *Queue) PostDelayed(key string, delay time.Duration, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	if old, ok := q.timers[key]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if current, ok := q.timers[key]; !ok || current != timer {
			q.mu.Unlock()
			return
		}
		delete(q.timers, key)
		q.mu.Unlock()

		if err := q.Post(fn); err != nil {
			q.logger.Debug("delayed task dropped", zap.String("queue", q.name), zap.String("key", key))
		}
	})
	q.timers[key] = timer
	return nil
}

// Cancel removes a pending delayed task. It reports whether one was pending.
func (q *Queue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	timer, ok := q.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(q.timers, key)
	return true
}

// HasPending reports whether a delayed task is registered under key.
func (q *Queue) HasPending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.timers[key]
	return ok
}

// Sync blocks until every task posted before the call has run.
func (q *Queue) Sync() error {
	flushed := make(chan struct{})
	if err := q.Post(func() { close(flushed) }); err != nil {
		return err
	}
	<-flushed
	return nil
}

// Close stops accepting tasks, drops pending timers and waits for the
// worker to finish the tasks already queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()

			q.execute(fn)
		}
	}
}

func (q *Queue) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", zap.String("queue", q.name), zap.Any("panic", r))
		}
	}()
	fn()
}
