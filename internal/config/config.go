package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/aidenletourneau/gated_pipeline/server/internal/schedule"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Pipeline  PipelineConfig
	Logging   LogConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// PipelineConfig holds producer, consumer and queue timing.
type PipelineConfig struct {
	MaxEvents       int           `envconfig:"MAX_EVENTS" default:"20" yaml:"max_events"`
	ProduceInterval time.Duration `envconfig:"PRODUCE_INTERVAL" default:"3s" yaml:"produce_interval"`
	ConsumeInterval time.Duration `envconfig:"CONSUME_INTERVAL" default:"5s" yaml:"consume_interval"`
	WriteLatency    time.Duration `envconfig:"WRITE_LATENCY" default:"3s" yaml:"write_latency"`
	ReadLatency     time.Duration `envconfig:"READ_LATENCY" default:"5s" yaml:"read_latency"`
	TickMode        string        `envconfig:"TICK_MODE" default:"serial" yaml:"tick_mode"`
	ProducerRunFor  time.Duration `envconfig:"PRODUCER_RUN_FOR" default:"90s" yaml:"producer_run_for"`
	ConsumerRunFor  time.Duration `envconfig:"CONSUMER_RUN_FOR" default:"150s" yaml:"consumer_run_for"`
	SampleInterval  time.Duration `envconfig:"SAMPLE_INTERVAL" default:"1s" yaml:"sample_interval"`
	// Seed makes priority selection reproducible; 0 uses the process-wide generator.
	Seed        uint64 `envconfig:"SEED" default:"0" yaml:"seed"`
	ProfileFile string `envconfig:"PROFILE_FILE" yaml:"-"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string   `envconfig:"LOG_LEVEL" default:"info"`
	Development bool     `envconfig:"LOG_DEV" default:"false"`
	MaxEntries  int      `envconfig:"LOG_MAX_ENTRIES" default:"10000"`
	OutputPaths []string `envconfig:"LOG_OUTPUT" default:"stdout"`
}

// StoreConfig holds run report storage configuration. An empty URL disables
// the store.
type StoreConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" default:"runs.db"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// profileFile is the root YAML structure of a run profile
type profileFile struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// Load loads configuration from environment variables, then applies the run
// profile named by PROFILE_FILE if one is set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Pipeline.ProfileFile != "" {
		if err := cfg.Pipeline.LoadProfile(cfg.Pipeline.ProfileFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPipeline returns the reference cadence.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		MaxEvents:       20,
		ProduceInterval: 3 * time.Second,
		ConsumeInterval: 5 * time.Second,
		WriteLatency:    3 * time.Second,
		ReadLatency:     5 * time.Second,
		TickMode:        string(schedule.ModeSerial),
		ProducerRunFor:  90 * time.Second,
		ConsumerRunFor:  150 * time.Second,
		SampleInterval:  time.Second,
	}
}

// LoadProfile overlays the pipeline section of a YAML profile file
func (p *PipelineConfig) LoadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile file: %w", err)
	}
	return p.LoadProfileFromBytes(data)
}

// LoadProfileFromBytes overlays the pipeline section of YAML profile bytes.
// Fields absent from the profile keep their current values.
func (p *PipelineConfig) LoadProfileFromBytes(data []byte) error {
	file := profileFile{Pipeline: *p}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	file.Pipeline.ProfileFile = p.ProfileFile
	*p = file.Pipeline
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	return c.Pipeline.Validate()
}

// Validate checks the pipeline configuration.
func (p PipelineConfig) Validate() error {
	var errs []error
	if p.MaxEvents < 0 {
		errs = append(errs, fmt.Errorf("max_events must not be negative, got %d", p.MaxEvents))
	}
	if p.ProduceInterval <= 0 {
		errs = append(errs, fmt.Errorf("produce_interval must be positive, got %s", p.ProduceInterval))
	}
	if p.ConsumeInterval <= 0 {
		errs = append(errs, fmt.Errorf("consume_interval must be positive, got %s", p.ConsumeInterval))
	}
	if p.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("sample_interval must be positive, got %s", p.SampleInterval))
	}
	if p.WriteLatency < 0 || p.ReadLatency < 0 {
		errs = append(errs, errors.New("latencies must not be negative"))
	}
	if p.ProducerRunFor <= 0 || p.ConsumerRunFor <= 0 {
		errs = append(errs, errors.New("run durations must be positive"))
	}
	if _, err := schedule.ParseMode(p.TickMode); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	return nil
}

// Mode returns the parsed tick mode; Validate reports invalid names.
func (p PipelineConfig) Mode() schedule.Mode {
	mode, err := schedule.ParseMode(p.TickMode)
	if err != nil {
		return schedule.ModeSerial
	}
	return mode
}
