package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mode selects how ticks relate to each other
type Mode string

const (
	// ModeSerial runs one tick at a time. A tick that outlasts the interval
	// delays the next one; ticks missed meanwhile are dropped.
	ModeSerial Mode = "serial"
	// ModeOverlap fires every tick in its own goroutine regardless of whether
	// earlier ticks have finished.
	ModeOverlap Mode = "overlap"
)

// ParseMode validates a mode name. An empty name selects ModeSerial.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSerial:
		return ModeSerial, nil
	case ModeOverlap:
		return ModeOverlap, nil
	default:
		return "", fmt.Errorf("unknown tick mode %q", s)
	}
}

// ErrStarted is returned when Start is called more than once
var ErrStarted = errors.New("schedule: already started")

// TickFunc is the work done on each tick. The context is the one given to
// Start; Stop does not cancel it.
type TickFunc func(ctx context.Context)

// Periodic calls a TickFunc every interval until stopped
type Periodic struct {
	interval time.Duration
	mode     Mode

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	inflight sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewPeriodic creates a new periodic timer. The first tick fires one interval
// after Start.
func NewPeriodic(interval time.Duration, mode Mode) *Periodic {
	if mode == "" {
		mode = ModeSerial
	}
	return &Periodic{
		interval: interval,
		mode:     mode,
		done:     make(chan struct{}),
	}
}

// Start begins ticking. Cancelling ctx stops future ticks and is also seen by
// in-flight ones.
func (p *Periodic) Start(ctx context.Context, tick TickFunc) error {
	if p.interval <= 0 {
		return fmt.Errorf("schedule: interval must be positive, got %s", p.interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrStarted
	}
	p.started = true

	select {
	case <-p.done:
		// Stopped before it ever started.
		return nil
	default:
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.loop(loopCtx, ctx, tick)
	return nil
}

func (p *Periodic) loop(loopCtx, workCtx context.Context, tick TickFunc) {
	defer func() {
		p.inflight.Wait()
		p.doneOnce.Do(func() { close(p.done) })
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
		}

		// Both cases may be ready at once; a stop always wins.
		if loopCtx.Err() != nil {
			return
		}

		if p.mode == ModeOverlap {
			p.inflight.Add(1)
			go func() {
				defer p.inflight.Done()
				tick(workCtx)
			}()
			continue
		}
		tick(workCtx)
	}
}

// Stop halts future ticks. In-flight ticks are left to finish. Stop may be
// called from inside a tick and more than once.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		return
	}
	if !p.started {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

// Done is closed once the timer is stopped and no tick is running
func (p *Periodic) Done() <-chan struct{} {
	return p.done
}

// Interval returns the tick interval
func (p *Periodic) Interval() time.Duration {
	return p.interval
}

// Mode returns the tick mode
func (p *Periodic) Mode() Mode {
	return p.mode
}
