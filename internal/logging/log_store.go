package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
)

// Subscriber receives every entry added to a LogStore
type Subscriber func(entry models.LogEntry)

// LogStore stores logs in memory and fans them out to subscribers
type LogStore struct {
	logger  *zap.Logger
	entries []models.LogEntry
	mu      sync.RWMutex
	maxSize int // Maximum number of logs to keep (0 = unlimited)

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSub     int
}

// NewLogStore creates a new log store. A nil logger discards output.
func NewLogStore(logger *zap.Logger, maxSize int) *LogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStore{
		logger:      logger,
		entries:     make([]models.LogEntry, 0),
		maxSize:     maxSize,
		subscribers: make(map[int]Subscriber),
	}
}

// Add adds a log entry to the store
func (ls *LogStore) Add(level, component, message string) {
	entry := models.LogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Level:     level,
		Component: component,
	}

	ls.mu.Lock()
	ls.entries = append(ls.entries, entry)
	// Trim if we exceed max size
	if ls.maxSize > 0 && len(ls.entries) > ls.maxSize {
		ls.entries = ls.entries[len(ls.entries)-ls.maxSize:]
	}
	ls.mu.Unlock()

	ls.subMu.RLock()
	defer ls.subMu.RUnlock()
	for _, sub := range ls.subscribers {
		sub(entry)
	}
}

// GetAll returns a copy of all log entries
func (ls *LogStore) GetAll() []models.LogEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	result := make([]models.LogEntry, len(ls.entries))
	copy(result, ls.entries)
	return result
}

// Clear clears all log entries
func (ls *LogStore) Clear() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.entries = make([]models.LogEntry, 0)
}

// Subscribe registers fn for every future entry and returns a function that
// removes it
func (ls *LogStore) Subscribe(fn Subscriber) func() {
	ls.subMu.Lock()
	id := ls.nextSub
	ls.nextSub++
	ls.subscribers[id] = fn
	ls.subMu.Unlock()

	return func() {
		ls.subMu.Lock()
		defer ls.subMu.Unlock()
		delete(ls.subscribers, id)
	}
}

// LogAndStore logs a message through zap and stores it in the log store
func (ls *LogStore) LogAndStore(level, format string, args ...any) {
	ls.logAndStore(level, "", fmt.Sprintf(format, args...))
}

// Sink returns a line sink that records lines for component at info level.
// Alert lines are recorded at warn level.
func (ls *LogStore) Sink(component string) func(line string) {
	return func(line string) {
		level := "info"
		if strings.HasPrefix(line, "ALERT") {
			level = "warn"
		}
		ls.logAndStore(level, component, line)
	}
}

func (ls *LogStore) logAndStore(level, component, message string) {
	logger := ls.logger
	if component != "" {
		logger = logger.With(zap.String("component", component))
	}

	switch level {
	case "debug":
		logger.Debug(message)
	case "warn", "warning":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
	ls.Add(level, component, message)
}
