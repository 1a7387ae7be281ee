package models

import "time"

// Event represents a single unit of work flowing through the pipeline.
// Events are passed by value: the producer creates them, the queue holds
// them and the consumer receives them, nobody mutates them in between
type Event struct {
	ID        uint64    `json:"id"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates a new event
func NewEvent(id uint64, priority Priority, createdAt time.Time) Event {
	return Event{
		ID:        id,
		Priority:  priority,
		CreatedAt: createdAt,
	}
}

// ComponentState represents the lifecycle state of a producer or consumer
type ComponentState string

const (
	StateIdle    ComponentState = "Idle"
	StateRunning ComponentState = "Running"
	StateStopped ComponentState = "Stopped"
)

// ProducerSnapshot holds the producer counters read by the driver
type ProducerSnapshot struct {
	State          ComponentState `json:"state"`
	EventsProduced int            `json:"events_produced"`
	MaxEvents      int            `json:"max_events"`
}

// ConsumerSnapshot holds the consumer counters read by the driver
type ConsumerSnapshot struct {
	State          ComponentState `json:"state"`
	EventsConsumed int            `json:"events_consumed"`
	TotalEvents    int            `json:"total_events"`
	AlertCount     int            `json:"alert_count"`
	LastPriority   *Priority      `json:"last_priority,omitempty"`
}

// QueueStats holds gated queue counters
type QueueStats struct {
	Length       int   `json:"length"`
	Busy         bool  `json:"busy"`
	Enqueued     int64 `json:"enqueued"`
	Dequeued     int64 `json:"dequeued"`
	EmptyReads   int64 `json:"empty_reads"`
	PeakInFlight int32 `json:"peak_in_flight"`
}

// PipelineSnapshot is the point-in-time view the driver samples for display
type PipelineSnapshot struct {
	RunID    string           `json:"run_id"`
	Taken    time.Time        `json:"taken"`
	Producer ProducerSnapshot `json:"producer"`
	Consumer ConsumerSnapshot `json:"consumer"`
	Queue    QueueStats       `json:"queue"`
}

// RunReport summarizes a finished run
type RunReport struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	EventsProduced int       `json:"events_produced"`
	EventsConsumed int       `json:"events_consumed"`
	AlertCount     int       `json:"alert_count"`
	Remaining      int       `json:"remaining"`
	// Residence latency is the time between event creation and consumption
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	StdDevLatencyMs float64 `json:"stddev_latency_ms"`
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
}

// Message represents a WebSocket message sent to watchers
type Message struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Status   string            `json:"status,omitempty"`
	Log      *LogEntry         `json:"log,omitempty"`
	Snapshot *PipelineSnapshot `json:"snapshot,omitempty"`
}

// Message types
const (
	MessageRegister   = "register"
	MessageRegistered = "registered"
	MessageLog        = "log"
	MessageSnapshot   = "snapshot"
)
