package raktr

import (
	"sync"
	"time"
)

// taskQueue is the reactor's linear task container. Append is safe from
// any thread; runDue is only ever called from the loop thread. New tasks
// appended mid-iteration are observed on the next tick, not the current
// one, because runDue snapshots its length before iterating.
type taskQueue struct {
	mu    sync.Mutex
	tasks []task
}

func (q *taskQueue) append(t task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// runDue runs every currently-due task in insertion order, then drops the
// ones that report themselves expired.
func (q *taskQueue) runDue(now time.Time) {
	q.mu.Lock()
	n := len(q.tasks)
	snapshot := q.tasks[:n:n]
	q.mu.Unlock()

	for _, t := range snapshot {
		if t.due(now) {
			t.run(now)
		}
	}

	q.mu.Lock()
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.expired() {
			kept = append(kept, t)
		}
	}
	q.tasks = kept
	q.mu.Unlock()
}

func (q *taskQueue) clear() {
	q.mu.Lock()
	q.tasks = nil
	q.mu.Unlock()
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Queue is the FIFO object returned by Reactor.CreateQueue: values are
// pushed from any thread (each Push wakes the reactor loop) and taken out
// with Pop. There is no consumer callback; a value is delivered only when
// code calls Pop, for example from an OnTick body on the loop thread.
type Queue struct {
	reactor *Reactor

	mu    sync.Mutex
	items []interface{}
}

// Push enqueues a value. Safe from any thread.
func (q *Queue) Push(v interface{}) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.reactor.wake()
}

// Pop removes and returns the oldest pushed value, and whether one existed.
// Intended to be called from the loop thread (e.g. from an OnTick body),
// though the mutex makes it safe anywhere.
func (q *Queue) Pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

// Len reports the number of values currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
