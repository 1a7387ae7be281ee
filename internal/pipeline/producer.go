package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/schedule"
)

// DefaultProduceInterval is the producer tick cadence
const DefaultProduceInterval = 3 * time.Second

// ProducerOptions configures a Producer
type ProducerOptions struct {
	MaxEvents int
	Interval  time.Duration
	Mode      schedule.Mode
	// Source picks priorities; the process-wide generator is used when nil.
	Source UnitSource
	// OnProduce is called after each successful enqueue
	OnProduce func(event models.Event)
}

// Producer mints events on a fixed cadence until MaxEvents have been
// enqueued or it is stopped
type Producer struct {
	queue     Enqueuer
	maxEvents int
	source    UnitSource
	onProduce func(models.Event)
	ticker    *schedule.Periodic

	mu       sync.Mutex
	state    models.ComponentState
	sink     LogSink
	reserved int // ids handed out, including enqueues still in flight
	produced int
}

// NewProducer creates a new producer writing to q
func NewProducer(q Enqueuer, opts ProducerOptions) *Producer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProduceInterval
	}
	if opts.Source == nil {
		opts.Source = globalSource{}
	}
	return &Producer{
		queue:     q,
		maxEvents: max(opts.MaxEvents, 0),
		source:    opts.Source,
		onProduce: opts.OnProduce,
		ticker:    schedule.NewPeriodic(opts.Interval, opts.Mode),
		state:     models.StateIdle,
	}
}

// Start begins producing. ctx bounds every enqueue; cancelling it aborts
// in-flight writes, while Stop lets them finish.
func (p *Producer) Start(ctx context.Context, sink LogSink) error {
	p.mu.Lock()
	switch p.state {
	case models.StateRunning:
		p.mu.Unlock()
		return ErrAlreadyStarted
	case models.StateStopped:
		p.mu.Unlock()
		return ErrStopped
	}
	p.state = models.StateRunning
	p.sink = sink
	p.mu.Unlock()

	if err := p.ticker.Start(ctx, p.tick); err != nil {
		p.halt()
		return fmt.Errorf("failed to start producer: %w", err)
	}

	sink.emit(fmt.Sprintf("Producer started (max %d events, every %s, %s ticks)",
		p.maxEvents, p.ticker.Interval(), p.ticker.Mode()))
	return nil
}

// Stop halts future ticks. Calling Stop on a stopped producer does nothing.
func (p *Producer) Stop(sink LogSink) {
	if p.halt() {
		sink.emit(fmt.Sprintf("Producer stopped after %d events", p.EventsProduced()))
	}
}

// halt moves the producer into its terminal state and reports whether this
// call made the transition
func (p *Producer) halt() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == models.StateStopped {
		return false
	}
	p.state = models.StateStopped
	p.ticker.Stop()
	return true
}

func (p *Producer) tick(ctx context.Context) {
	id, unit, ok := p.reserve()
	if !ok {
		if p.halt() {
			p.logSink().emit(fmt.Sprintf("Producer reached its cap of %d events, stopping", p.maxEvents))
		}
		return
	}

	event := models.NewEvent(id, models.Priorities.FromUnit(unit), time.Now())
	if err := p.queue.Enqueue(ctx, event); err != nil {
		p.logSink().emit(fmt.Sprintf("Producer failed to enqueue event #%d: %v", id, err))
		return
	}

	p.mu.Lock()
	p.produced++
	produced := p.produced
	p.mu.Unlock()

	if p.onProduce != nil {
		p.onProduce(event)
	}
	p.logSink().emit(fmt.Sprintf("Produced event #%d with priority %s (%d/%d)",
		event.ID, event.Priority, produced, p.maxEvents))
}

// reserve hands out the next event id and its priority sample unless the cap
// has been reached or the producer is no longer running. Sampling under mu
// keeps the n-th draw bound to event #n when ticks overlap.
func (p *Producer) reserve() (uint64, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.StateRunning || p.reserved >= p.maxEvents {
		return 0, 0, false
	}
	p.reserved++
	return uint64(p.reserved), p.source.Float64(), true
}

func (p *Producer) logSink() LogSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// Done is closed once the producer is stopped and its last tick has finished
func (p *Producer) Done() <-chan struct{} {
	return p.ticker.Done()
}

// EventsProduced returns the number of events successfully enqueued
func (p *Producer) EventsProduced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.produced
}

// MaxEvents returns the production cap
func (p *Producer) MaxEvents() int {
	return p.maxEvents
}

// Snapshot returns the producer counters
func (p *Producer) Snapshot() models.ProducerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.ProducerSnapshot{
		State:          p.state,
		EventsProduced: p.produced,
		MaxEvents:      p.maxEvents,
	}
}
