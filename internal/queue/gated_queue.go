package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
)

/*
Gated Queue

A FIFO buffer shared by one producer and one consumer. Every operation must
hold a single gate for its whole duration, including the simulated write or
read latency, so callers contend with each other the same way they would
against a slow device.

The queue ensures:
1. Events are dequeued in the order they were enqueued (FIFO)
2. At most one enqueue or dequeue holds the gate at any instant
3. The buffer is only mutated while the gate is held
4. Callers waiting for the gate acquire it in arrival order
5. A dequeue on an empty buffer returns immediately without paying read latency
*/

const (
	// DefaultWriteLatency is the simulated cost of an enqueue
	DefaultWriteLatency = 3 * time.Second
	// DefaultReadLatency is the simulated cost of a dequeue
	DefaultReadLatency = 5 * time.Second
)

// Hook receives queue activity, typically for metrics. Calls are made while
// the gate is held and must not call back into the queue.
type Hook interface {
	OnEnqueue(event models.Event, waited time.Duration)
	OnDequeue(event models.Event, waited time.Duration)
	OnEmptyDequeue(waited time.Duration)
}

// Options configures a GatedQueue
type Options struct {
	WriteLatency time.Duration
	ReadLatency  time.Duration
	Hook         Hook
}

// GatedQueue serializes all reads and writes behind one gate
type GatedQueue struct {
	gate *semaphore.Weighted

	// mu guards buffer for snapshot readers; writers also hold the gate.
	mu     sync.Mutex
	buffer []models.Event

	writeLatency time.Duration
	readLatency  time.Duration
	hook         Hook

	inFlight     atomic.Int32
	peakInFlight atomic.Int32
	enqueued     atomic.Int64
	dequeued     atomic.Int64
	emptyReads   atomic.Int64
}

// NewGatedQueue creates a new gated queue. Negative latencies are treated as
// zero.
func NewGatedQueue(opts Options) *GatedQueue {
	return &GatedQueue{
		gate:         semaphore.NewWeighted(1),
		buffer:       make([]models.Event, 0),
		writeLatency: max(opts.WriteLatency, 0),
		readLatency:  max(opts.ReadLatency, 0),
		hook:         opts.Hook,
	}
}

// Enqueue appends an event to the tail of the queue. It blocks until the gate
// is free and then for the write latency. If ctx ends first the event is not
// appended and ctx's error is returned.
func (q *GatedQueue) Enqueue(ctx context.Context, event models.Event) error {
	waited, err := q.acquire(ctx)
	if err != nil {
		return err
	}
	defer q.release()

	if err := pause(ctx, q.writeLatency); err != nil {
		return err
	}

	q.mu.Lock()
	q.buffer = append(q.buffer, event)
	q.mu.Unlock()

	q.enqueued.Add(1)
	if q.hook != nil {
		q.hook.OnEnqueue(event, waited)
	}
	return nil
}

// Dequeue removes and returns the oldest event. The boolean is false when the
// queue was empty; that path releases the gate at once without paying the
// read latency. If ctx ends first the buffer is left unchanged.
func (q *GatedQueue) Dequeue(ctx context.Context) (models.Event, bool, error) {
	waited, err := q.acquire(ctx)
	if err != nil {
		return models.Event{}, false, err
	}
	defer q.release()

	if q.Len() == 0 {
		q.emptyReads.Add(1)
		if q.hook != nil {
			q.hook.OnEmptyDequeue(waited)
		}
		return models.Event{}, false, nil
	}

	if err := pause(ctx, q.readLatency); err != nil {
		return models.Event{}, false, err
	}

	q.mu.Lock()
	event := q.buffer[0]
	q.buffer[0] = models.Event{}
	q.buffer = q.buffer[1:]
	q.mu.Unlock()

	q.dequeued.Add(1)
	if q.hook != nil {
		q.hook.OnDequeue(event, waited)
	}
	return event, true, nil
}

func (q *GatedQueue) acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := q.gate.Acquire(ctx, 1); err != nil {
		return 0, err
	}

	n := q.inFlight.Add(1)
	for {
		peak := q.peakInFlight.Load()
		if n <= peak || q.peakInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return time.Since(start), nil
}

func (q *GatedQueue) release() {
	q.inFlight.Add(-1)
	q.gate.Release(1)
}

// Len returns the number of buffered events
func (q *GatedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Busy reports whether an operation currently holds the gate
func (q *GatedQueue) Busy() bool {
	return q.inFlight.Load() > 0
}

// Stats returns the current queue counters
func (q *GatedQueue) Stats() models.QueueStats {
	return models.QueueStats{
		Length:       q.Len(),
		Busy:         q.Busy(),
		Enqueued:     q.enqueued.Load(),
		Dequeued:     q.dequeued.Load(),
		EmptyReads:   q.emptyReads.Load(),
		PeakInFlight: q.peakInFlight.Load(),
	}
}

// pause blocks for d or until ctx is done
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
