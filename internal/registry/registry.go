package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
)

// DefaultBacklog is the number of messages buffered per watcher
const DefaultBacklog = 256

// Watcher is a connected display client. Messages are queued on Send and
// written by the connection's own goroutine.
type Watcher struct {
	ID   string
	Name string
	Send chan models.Message

	closeOnce sync.Once
}

// close closes the send channel exactly once
func (w *Watcher) close() {
	w.closeOnce.Do(func() { close(w.Send) })
}

// Registry manages connected watchers
type Registry struct {
	watchers map[string]*Watcher
	mu       sync.RWMutex
	backlog  int
}

// NewRegistry creates a new watcher registry
func NewRegistry(backlog int) *Registry {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Registry{
		watchers: make(map[string]*Watcher),
		backlog:  backlog,
	}
}

// Register adds a new watcher with a fresh id
func (r *Registry) Register(name string) *Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &Watcher{
		ID:   uuid.NewString(),
		Name: name,
		Send: make(chan models.Message, r.backlog),
	}
	r.watchers[w.ID] = w
	return w
}

// Get retrieves a watcher by ID
func (r *Registry) Get(id string) (*Watcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.watchers[id]
	return w, exists
}

// Unregister removes a watcher and closes its send channel
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.watchers[id]; ok {
		delete(r.watchers, id)
		w.close()
	}
}

// GetAll returns all registered watchers
func (r *Registry) GetAll() map[string]*Watcher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Watcher, len(r.watchers))
	for k, v := range r.watchers {
		result[k] = v
	}
	return result
}

// Len returns the number of registered watchers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers)
}

// Broadcast queues msg for every watcher and returns how many accepted it.
// A watcher whose backlog is full misses the message rather than stalling
// the pipeline.
func (r *Registry) Broadcast(msg models.Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, w := range r.watchers {
		select {
		case w.Send <- msg:
			delivered++
		default:
		}
	}
	return delivered
}
