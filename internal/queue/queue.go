// Package queue implements a bounded-concurrency priority task queue.
//
// Each Queue owns a fixed worker budget. Tasks are enqueued with a priority;
// higher priorities run first, tasks of equal priority run in arrival order.
// The bot runs three singleton queues (text, voice response, speech synthesis)
// so that expensive remote calls never pile up per guild.
package queue

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueCleared settles tasks that were discarded by Clear before a worker
// picked them up.
var ErrQueueCleared = errors.New("queue: cleared before execution")

// Task is a unit of work executed by a queue worker. The returned error (nil
// on success) is delivered on the channel handed out by Enqueue.
type Task func() error

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Name      string
	Queued    int
	Running   int
	Processed uint64
	Failed    uint64
}

type item struct {
	task     Task
	priority int
	done     chan error
}

// Queue executes tasks with bounded concurrency in priority order.
// All methods are safe for concurrent use.
type Queue struct {
	name        string
	concurrency int
	log         *slog.Logger

	mu        sync.Mutex
	pending   []*item
	running   int
	processed uint64
	failed    uint64
}

// New creates a queue that runs at most concurrency tasks at once.
// A concurrency below 1 is treated as 1.
func New(name string, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		name:        name,
		concurrency: concurrency,
		log:         slog.Default().With("queue", name),
	}
}

// Enqueue adds task to the queue and returns a channel that receives exactly
// one value when the task settles: nil on success, the task's error on
// failure, or ErrQueueCleared if the queue was cleared first. The channel is
// buffered, so callers may discard it for fire-and-forget dispatch.
func (q *Queue) Enqueue(task Task, priority int) <-chan error {
	it := &item{task: task, priority: priority, done: make(chan error, 1)}

	q.mu.Lock()
	q.insert(it)
	q.dispatchLocked()
	q.mu.Unlock()

	return it.done
}

// insert keeps pending ordered by priority descending, preserving arrival
// order within a priority band. Caller holds q.mu.
func (q *Queue) insert(it *item) {
	idx := len(q.pending)
	for i, p := range q.pending {
		if p.priority < it.priority {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = it
}

// dispatchLocked starts workers while budget and work remain. Caller holds q.mu.
func (q *Queue) dispatchLocked() {
	for q.running < q.concurrency && len(q.pending) > 0 {
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		go q.run(it)
	}
}

func (q *Queue) run(it *item) {
	err := q.execute(it.task)
	it.done <- err

	q.mu.Lock()
	q.running--
	if err != nil {
		q.failed++
		q.log.Warn("task failed", "err", err)
	} else {
		q.processed++
	}
	q.dispatchLocked()
	q.mu.Unlock()
}

// execute isolates worker panics so one bad task cannot take the queue down.
func (q *Queue) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, errorFromPanic(r))
			q.log.Error("task panicked", "panic", r)
		}
	}()
	return task()
}

func errorFromPanic(r any) error {
	if e, ok := r.(error); ok {
		return e
	}
	return errors.New("queue: task panic")
}

// Clear discards all pending tasks, settling each with ErrQueueCleared.
// Running tasks are unaffected and keep their worker slots until they finish.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- ErrQueueCleared
	}
	if len(dropped) > 0 {
		q.log.Info("queue cleared", "dropped", len(dropped))
	}
	return len(dropped)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:      q.name,
		Queued:    len(q.pending),
		Running:   q.running,
		Processed: q.processed,
		Failed:    q.failed,
	}
}
