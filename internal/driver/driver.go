package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/aidenletourneau/gated_pipeline/server/internal/config"
	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/monitoring"
	"github.com/aidenletourneau/gated_pipeline/server/internal/pipeline"
	"github.com/aidenletourneau/gated_pipeline/server/internal/queue"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
)

/*
Driver

The driver owns one run of the pipeline. It starts the producer and the
consumer, stops each of them after its own fixed run duration, and samples
their counters on a separate cadence for display. The core components never
know who is watching: the driver polls snapshots and pushes them to metrics,
the debug log and connected watchers.
*/

// ErrAlreadyRan is returned when Run is called twice on one driver
var ErrAlreadyRan = errors.New("driver: run already started")

// RunArchive persists finished run reports
type RunArchive interface {
	SaveRun(report models.RunReport) error
}

// Options configures a Driver. A zero Pipeline runs the reference cadence.
type Options struct {
	Pipeline config.PipelineConfig
	Logs     *logging.LogStore
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	Archive  RunArchive
	Watchers *registry.Registry
}

// Driver runs one producer/consumer pipeline over a shared gated queue
type Driver struct {
	runID    string
	cfg      config.PipelineConfig
	logs     *logging.LogStore
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	archive  RunArchive
	watchers *registry.Registry

	queue    *queue.GatedQueue
	producer *pipeline.Producer
	consumer *pipeline.Consumer

	producerSink pipeline.LogSink
	consumerSink pipeline.LogSink

	mu        sync.Mutex
	ran       bool
	startedAt time.Time
	latencies []float64
	report    *models.RunReport
}

// New creates a new driver and the pipeline it runs
func New(opts Options) (*Driver, error) {
	if opts.Pipeline == (config.PipelineConfig{}) {
		opts.Pipeline = config.DefaultPipeline()
	}
	if err := opts.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Logs == nil {
		opts.Logs = logging.NewLogStore(opts.Logger, 0)
	}

	d := &Driver{
		runID:    uuid.NewString(),
		cfg:      opts.Pipeline,
		logs:     opts.Logs,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		archive:  opts.Archive,
		watchers: opts.Watchers,
	}
	d.logger = d.logger.With(zap.String("run_id", d.runID))

	queueOpts := queue.Options{
		WriteLatency: d.cfg.WriteLatency,
		ReadLatency:  d.cfg.ReadLatency,
	}
	if d.metrics != nil {
		queueOpts.Hook = d.metrics
	}
	d.queue = queue.NewGatedQueue(queueOpts)

	var source pipeline.UnitSource
	if d.cfg.Seed != 0 {
		source = pipeline.NewSeededSource(d.cfg.Seed)
	}

	d.producer = pipeline.NewProducer(d.queue, pipeline.ProducerOptions{
		MaxEvents: d.cfg.MaxEvents,
		Interval:  d.cfg.ProduceInterval,
		Mode:      d.cfg.Mode(),
		Source:    source,
	})
	d.consumer = pipeline.NewConsumer(d.queue, pipeline.ConsumerOptions{
		TotalEvents: d.cfg.MaxEvents,
		Interval:    d.cfg.ConsumeInterval,
		Mode:        d.cfg.Mode(),
		OnConsume:   d.recordConsumed,
	})

	d.producerSink = d.logs.Sink("producer")
	d.consumerSink = d.logs.Sink("consumer")

	return d, nil
}

// RunID returns the id of this run
func (d *Driver) RunID() string {
	return d.runID
}

// Run starts the pipeline and blocks until both components have stopped,
// either on their run timers or because ctx was cancelled. The report is
// archived when an archive is configured; an archive failure is returned
// alongside the report.
func (d *Driver) Run(ctx context.Context) (models.RunReport, error) {
	d.mu.Lock()
	if d.ran {
		d.mu.Unlock()
		return models.RunReport{}, ErrAlreadyRan
	}
	d.ran = true
	d.startedAt = time.Now()
	d.mu.Unlock()

	d.logs.LogAndStore("info", "Run %s starting: %d events, producer for %s, consumer for %s",
		d.runID, d.cfg.MaxEvents, d.cfg.ProducerRunFor, d.cfg.ConsumerRunFor)

	if err := d.producer.Start(ctx, d.producerSink); err != nil {
		return models.RunReport{}, err
	}
	if err := d.consumer.Start(ctx, d.consumerSink); err != nil {
		d.producer.Stop(d.producerSink)
		return models.RunReport{}, err
	}

	producerTimer := time.AfterFunc(d.cfg.ProducerRunFor, d.StopProducer)
	defer producerTimer.Stop()
	consumerTimer := time.AfterFunc(d.cfg.ConsumerRunFor, d.StopConsumer)
	defer consumerTimer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	sampleCtx, stopSampling := context.WithCancel(gctx)
	defer stopSampling()

	g.Go(func() error {
		d.sample(sampleCtx)
		return nil
	})
	g.Go(func() error {
		defer stopSampling()
		d.await(ctx)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		d.logs.LogAndStore("warn", "Run %s interrupted: %v", d.runID, ctx.Err())
	}

	report := d.buildReport()
	d.mu.Lock()
	d.report = &report
	d.mu.Unlock()

	d.logs.LogAndStore("info", "Run %s finished: produced %d, consumed %d, alerts %d, remaining %d",
		d.runID, report.EventsProduced, report.EventsConsumed, report.AlertCount, report.Remaining)
	d.publish(d.Snapshot())

	if d.archive != nil {
		if err := d.archive.SaveRun(report); err != nil {
			d.logs.LogAndStore("error", "Failed to archive run %s: %v", d.runID, err)
			return report, fmt.Errorf("failed to archive run: %w", err)
		}
	}
	return report, nil
}

// await blocks until both components are done, stopping them early if ctx
// is cancelled
func (d *Driver) await(ctx context.Context) {
	for _, done := range []<-chan struct{}{d.producer.Done(), d.consumer.Done()} {
		select {
		case <-done:
		case <-ctx.Done():
			d.StopProducer()
			d.StopConsumer()
			<-done
		}
	}
}

// sample publishes a snapshot every SampleInterval until ctx is done
func (d *Driver) sample(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.publish(d.Snapshot())
		}
	}
}

func (d *Driver) publish(snap models.PipelineSnapshot) {
	if d.metrics != nil {
		d.metrics.RecordSnapshot(snap)
	}
	if ce := d.logger.Check(zap.DebugLevel, "progress"); ce != nil {
		ce.Write(zap.Strings("lines", RenderProgress(snap)))
	}
	if d.watchers != nil {
		d.watchers.Broadcast(models.Message{Type: models.MessageSnapshot, Snapshot: &snap})
	}
}

func (d *Driver) recordConsumed(event models.Event, _ bool) {
	latency := time.Since(event.CreatedAt)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.latencies = append(d.latencies, float64(latency)/float64(time.Millisecond))
}

func (d *Driver) buildReport() models.RunReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := models.RunReport{
		RunID:          d.runID,
		StartedAt:      d.startedAt,
		FinishedAt:     time.Now(),
		EventsProduced: d.producer.EventsProduced(),
		EventsConsumed: d.consumer.EventsConsumed(),
		AlertCount:     d.consumer.AlertCount(),
		Remaining:      d.queue.Len(),
	}
	if len(d.latencies) > 0 {
		mean, std := stat.MeanStdDev(d.latencies, nil)
		report.MeanLatencyMs = mean
		if !math.IsNaN(std) {
			report.StdDevLatencyMs = std
		}
	}
	return report
}

// StopProducer stops the producer early. It is safe to call repeatedly.
func (d *Driver) StopProducer() {
	d.producer.Stop(d.producerSink)
}

// StopConsumer stops the consumer early. It is safe to call repeatedly.
func (d *Driver) StopConsumer() {
	d.consumer.Stop(d.consumerSink)
}

// Snapshot returns the current counters of every component
func (d *Driver) Snapshot() models.PipelineSnapshot {
	return models.PipelineSnapshot{
		RunID:    d.runID,
		Taken:    time.Now(),
		Producer: d.producer.Snapshot(),
		Consumer: d.consumer.Snapshot(),
		Queue:    d.queue.Stats(),
	}
}

// Report returns the final report once Run has returned
func (d *Driver) Report() (models.RunReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.report == nil {
		return models.RunReport{}, false
	}
	return *d.report, true
}
