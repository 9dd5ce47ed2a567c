// Implements the admission Queue, which guards a stage with a worker pool.
// Events are admitted on accept and dispatched to free workers in FIFO order.

package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

// UnboundedCapacity is the capacity of a queue that never rejects on enqueue.
const UnboundedCapacity = math.MaxInt

// Job is a unit of admitted work. It receives release, which it must call
// exactly once when the work resolves so the worker can take the next job.
type Job func(release func())

// QueueStats counts admission decisions.
type QueueStats struct {
	Enqueued  int // jobs admitted
	Rejected  int // jobs refused because the queue was saturated
	MaxLength int // longest waiting line observed
}

// Queue represents the backpressure point in front of a stage: a FIFO line of
// admitted events plus a pool of workers that bound concurrency.
//
// Invariants: queued + inFlight never exceeds capacity, and no job is
// dispatched while inFlight >= workers. Shrinking the pool below inFlight
// lets running jobs finish; dispatch resumes once inFlight drops below the
// new worker count.
type Queue struct {
	capacity int
	workers  int
	inFlight int
	queue    []Job // FIFO line of admitted jobs waiting for a worker
	stats    QueueStats
}

// NewQueue creates a queue holding at most capacity events (waiting plus in
// flight) served by workers concurrent workers.
// Panics on negative capacity or a non-positive worker count.
func NewQueue(capacity, workers int) *Queue {
	if capacity < 0 {
		panic(fmt.Sprintf("NewQueue: capacity must be non-negative, got %d", capacity))
	}
	if workers < 1 {
		panic(fmt.Sprintf("NewQueue: workers must be positive, got %d", workers))
	}
	return &Queue{capacity: capacity, workers: workers}
}

// Enqueue admits job, or returns ErrRejected when the queue is saturated.
// An admitted job runs immediately if a worker is free.
func (q *Queue) Enqueue(job Job) error {
	if job == nil {
		panic("Enqueue: job must not be nil")
	}
	if q.Held() >= q.capacity {
		q.stats.Rejected++
		return ErrRejected
	}
	q.stats.Enqueued++
	q.queue = append(q.queue, job)
	q.stats.MaxLength = max(q.stats.MaxLength, len(q.queue))
	q.dispatch()
	return nil
}

// dispatch hands the oldest waiting jobs to free workers.
func (q *Queue) dispatch() {
	for q.inFlight < q.workers && len(q.queue) > 0 {
		next := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.inFlight++
		released := false
		next(func() {
			if released {
				return
			}
			released = true
			q.inFlight--
			q.dispatch()
		})
	}
}

// SetWorkers resizes the worker pool. Growing the pool dispatches waiting jobs
// right away.
// Panics on a negative count.
func (q *Queue) SetWorkers(n int) {
	if n < 0 {
		panic(fmt.Sprintf("SetWorkers: workers must be non-negative, got %d", n))
	}
	if n == 0 && q.workers > 0 {
		logrus.Warnf("SetWorkers: worker pool resized to zero, %d waiting jobs stall until it grows", len(q.queue))
	}
	q.workers = n
	q.dispatch()
}

// Workers returns the current worker count.
func (q *Queue) Workers() int {
	return q.workers
}

// Capacity returns the fixed capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Len returns the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.queue)
}

// InFlight returns the number of jobs currently held by workers.
func (q *Queue) InFlight() int {
	return q.inFlight
}

// Held returns waiting plus in-flight jobs.
func (q *Queue) Held() int {
	return len(q.queue) + q.inFlight
}

// Stats returns a copy of the admission counters.
func (q *Queue) Stats() QueueStats {
	return q.stats
}

func (q *Queue) String() string {
	var sb strings.Builder
	sb.WriteString("Queue{")
	if q.capacity == UnboundedCapacity {
		sb.WriteString("capacity=inf")
	} else {
		fmt.Fprintf(&sb, "capacity=%d", q.capacity)
	}
	fmt.Fprintf(&sb, " workers=%d inFlight=%d waiting=%d}", q.workers, q.inFlight, len(q.queue))
	return sb.String()
}
