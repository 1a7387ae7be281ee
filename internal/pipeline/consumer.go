package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/schedule"
)

// DefaultConsumeInterval is the consumer tick cadence
const DefaultConsumeInterval = 5 * time.Second

// ConsumerOptions configures a Consumer
type ConsumerOptions struct {
	// TotalEvents is the number of events the consumer expects to see. It is
	// only reported, never enforced.
	TotalEvents int
	Interval    time.Duration
	Mode        schedule.Mode
	// OnConsume is called after each successful dequeue
	OnConsume func(event models.Event, alert bool)
}

// Consumer drains the queue on a fixed cadence and raises an alert when two
// consecutively consumed events share a priority
type Consumer struct {
	queue       Dequeuer
	totalEvents int
	onConsume   func(models.Event, bool)
	ticker      *schedule.Periodic

	// turn spans a dequeue and the alert check that follows it, so
	// overlapping ticks compare priorities in dequeue order.
	turn *semaphore.Weighted

	mu           sync.Mutex
	state        models.ComponentState
	sink         LogSink
	consumed     int
	alerts       int
	lastPriority *models.Priority
}

// NewConsumer creates a new consumer reading from q
func NewConsumer(q Dequeuer, opts ConsumerOptions) *Consumer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultConsumeInterval
	}
	return &Consumer{
		queue:       q,
		totalEvents: max(opts.TotalEvents, 0),
		onConsume:   opts.OnConsume,
		ticker:      schedule.NewPeriodic(opts.Interval, opts.Mode),
		turn:        semaphore.NewWeighted(1),
		state:       models.StateIdle,
	}
}

// Start begins consuming. ctx bounds every dequeue; cancelling it aborts
// in-flight reads, while Stop lets them finish.
func (c *Consumer) Start(ctx context.Context, sink LogSink) error {
	c.mu.Lock()
	switch c.state {
	case models.StateRunning:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case models.StateStopped:
		c.mu.Unlock()
		return ErrStopped
	}
	c.state = models.StateRunning
	c.sink = sink
	c.mu.Unlock()

	if err := c.ticker.Start(ctx, c.tick); err != nil {
		c.halt()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	sink.emit(fmt.Sprintf("Consumer started (every %s, %s ticks)", c.ticker.Interval(), c.ticker.Mode()))
	return nil
}

// Stop halts future ticks. Calling Stop on a stopped consumer does nothing.
func (c *Consumer) Stop(sink LogSink) {
	if c.halt() {
		sink.emit(fmt.Sprintf("Consumer stopped after %d events (%d alerts)", c.EventsConsumed(), c.AlertCount()))
	}
}

func (c *Consumer) halt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == models.StateStopped {
		return false
	}
	c.state = models.StateStopped
	c.ticker.Stop()
	return true
}

func (c *Consumer) tick(ctx context.Context) {
	if err := c.turn.Acquire(ctx, 1); err != nil {
		c.logSink().emit(fmt.Sprintf("Consumer failed to dequeue: %v", err))
		return
	}
	defer c.turn.Release(1)

	event, ok, err := c.queue.Dequeue(ctx)
	if err != nil {
		c.logSink().emit(fmt.Sprintf("Consumer failed to dequeue: %v", err))
		return
	}
	if !ok {
		return
	}

	c.mu.Lock()
	c.consumed++
	alert := c.lastPriority != nil && *c.lastPriority == event.Priority
	if alert {
		c.alerts++
	}
	priority := event.Priority
	c.lastPriority = &priority
	consumed, alerts, sink := c.consumed, c.alerts, c.sink
	c.mu.Unlock()

	if c.onConsume != nil {
		c.onConsume(event, alert)
	}
	sink.emit(fmt.Sprintf("Consumed event #%d with priority %s (%d/%d)",
		event.ID, event.Priority, consumed, c.totalEvents))
	if alert {
		sink.emit(fmt.Sprintf("ALERT: consecutive %s priority events (event #%d, alert %d)",
			event.Priority, event.ID, alerts))
	}
}

func (c *Consumer) logSink() LogSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// Done is closed once the consumer is stopped and its last tick has finished
func (c *Consumer) Done() <-chan struct{} {
	return c.ticker.Done()
}

// EventsConsumed returns the number of events dequeued
func (c *Consumer) EventsConsumed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumed
}

// TotalEvents returns the expected total
func (c *Consumer) TotalEvents() int {
	return c.totalEvents
}

// AlertCount returns the number of alerts raised
func (c *Consumer) AlertCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts
}

// Snapshot returns the consumer counters
func (c *Consumer) Snapshot() models.ConsumerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := models.ConsumerSnapshot{
		State:          c.state,
		EventsConsumed: c.consumed,
		TotalEvents:    c.totalEvents,
		AlertCount:     c.alerts,
	}
	if c.lastPriority != nil {
		last := *c.lastPriority
		snap.LastPriority = &last
	}
	return snap
}
