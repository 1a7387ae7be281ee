package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
)

var (
	// ErrAlreadyStarted is returned by Start on a running component
	ErrAlreadyStarted = errors.New("pipeline: component already started")
	// ErrStopped is returned by Start on a stopped component; components
	// cannot be restarted
	ErrStopped = errors.New("pipeline: component stopped")
)

// LogSink receives one human-readable line per notable event
type LogSink func(line string)

func (s LogSink) emit(line string) {
	if s != nil {
		s(line)
	}
}

// Enqueuer is the write side of the queue used by a Producer
type Enqueuer interface {
	Enqueue(ctx context.Context, event models.Event) error
}

// Dequeuer is the read side of the queue used by a Consumer
type Dequeuer interface {
	Dequeue(ctx context.Context) (models.Event, bool, error)
}

// UnitSource yields uniform samples in [0,1)
type UnitSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// seededSource guards a PCG generator, which is not safe for concurrent use
type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewSeededSource returns a deterministic UnitSource that is safe for
// concurrent use
func NewSeededSource(seed uint64) UnitSource {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}
