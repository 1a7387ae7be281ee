package driver_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidenletourneau/gated_pipeline/server/internal/config"
	"github.com/aidenletourneau/gated_pipeline/server/internal/driver"
	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/monitoring"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
)

type memoryArchive struct {
	mu      sync.Mutex
	reports []models.RunReport
	err     error
}

func (a *memoryArchive) SaveRun(r models.RunReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.reports = append(a.reports, r)
	return nil
}

func testPipeline() config.PipelineConfig {
	p := config.DefaultPipeline()
	p.MaxEvents = 4
	p.ProducerRunFor = time.Minute
	p.ConsumerRunFor = 2 * time.Minute
	p.Seed = 7
	return p
}

func countLogs(ls *logging.LogStore, substr string) int {
	n := 0
	for _, e := range ls.GetAll() {
		if strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

func TestDriver_RunToCompletion(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		logs := logging.NewLogStore(nil, 0)
		archive := &memoryArchive{}
		watchers := registry.NewRegistry(1024)
		watcher := watchers.Register("test")

		d, err := driver.New(driver.Options{
			Pipeline: testPipeline(),
			Logs:     logs,
			Metrics:  monitoring.NewMetrics(),
			Archive:  archive,
			Watchers: watchers,
		})
		require.NoError(t, err)

		start := time.Now()
		report, err := d.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2*time.Minute, time.Since(start), "run lasts until the consumer timer")
		assert.Equal(t, d.RunID(), report.RunID)
		assert.Equal(t, 4, report.EventsProduced)
		assert.Equal(t, 4, report.EventsConsumed)
		assert.Equal(t, 0, report.Remaining)
		assert.Equal(t, countLogs(logs, "ALERT"), report.AlertCount)
		assert.Greater(t, report.MeanLatencyMs, 0.0)

		require.Len(t, archive.reports, 1)
		assert.Equal(t, report, archive.reports[0])

		stored, ok := d.Report()
		require.True(t, ok)
		assert.Equal(t, report, stored)

		assert.Equal(t, 1, countLogs(logs, "reached its cap"))
		assert.Equal(t, 1, countLogs(logs, "Consumer stopped"))
		assert.Equal(t, 4, countLogs(logs, "Consumed event"))

		snap := d.Snapshot()
		assert.Equal(t, models.StateStopped, snap.Producer.State)
		assert.Equal(t, models.StateStopped, snap.Consumer.State)
		assert.EqualValues(t, 1, snap.Queue.PeakInFlight)

		snapshots := 0
		for len(watcher.Send) > 0 {
			msg := <-watcher.Send
			if msg.Type == models.MessageSnapshot {
				snapshots++
			}
		}
		assert.Greater(t, snapshots, 100, "one snapshot per second of run time")

		_, err = d.Run(context.Background())
		assert.ErrorIs(t, err, driver.ErrAlreadyRan)
	})
}

func TestDriver_ProducerRunDurationCutsProduction(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := testPipeline()
		cfg.MaxEvents = 100
		cfg.ProducerRunFor = 10 * time.Second
		// Keep the consumer off the gate while the producer runs.
		cfg.ConsumeInterval = 20 * time.Second
		cfg.ConsumerRunFor = 30 * time.Second

		d, err := driver.New(driver.Options{Pipeline: cfg})
		require.NoError(t, err)

		report, err := d.Run(context.Background())
		require.NoError(t, err)

		// Ticks at 3s, 6s and 9s each finish their write; the one started at
		// 9s completes after the stop at 10s.
		assert.Equal(t, 3, report.EventsProduced)
		assert.Equal(t, 1, report.EventsConsumed)
		assert.Equal(t, 2, report.Remaining)
	})
}

func TestDriver_CancelStopsRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		logs := logging.NewLogStore(nil, 0)
		d, err := driver.New(driver.Options{Pipeline: testPipeline(), Logs: logs})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		start := time.Now()
		report, err := d.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, time.Since(start))
		assert.LessOrEqual(t, report.EventsProduced, 4)
		assert.Equal(t, 1, countLogs(logs, "interrupted"))
	})
}

func TestDriver_ArchiveFailureIsReturned(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := testPipeline()
		cfg.MaxEvents = 1
		cfg.ProducerRunFor = 5 * time.Second
		cfg.ConsumerRunFor = 15 * time.Second

		d, err := driver.New(driver.Options{
			Pipeline: cfg,
			Archive:  &memoryArchive{err: errors.New("disk full")},
		})
		require.NoError(t, err)

		report, err := d.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, d.RunID(), report.RunID)
	})
}

func TestDriver_ZeroPipelineUsesReferenceCadence(t *testing.T) {
	d, err := driver.New(driver.Options{})
	require.NoError(t, err)

	snap := d.Snapshot()
	assert.Equal(t, config.DefaultPipeline().MaxEvents, snap.Producer.MaxEvents)
	assert.Equal(t, models.StateIdle, snap.Producer.State)
	assert.Equal(t, models.StateIdle, snap.Consumer.State)
}

func TestDriver_RejectsInvalidConfig(t *testing.T) {
	cfg := testPipeline()
	cfg.ConsumeInterval = 0

	_, err := driver.New(driver.Options{Pipeline: cfg})
	assert.Error(t, err)
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		current, total int
		want           string
	}{
		{0, 10, "P [----------] 0/10"},
		{5, 10, "P [#####-----] 5/10"},
		{10, 10, "P [##########] 10/10"},
		{12, 10, "P [##########] 12/10"},
		{3, 0, "P [----------] 3/0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, driver.ProgressBar("P", tt.current, tt.total, 10))
	}
}

func TestRenderProgress(t *testing.T) {
	lines := driver.RenderProgress(models.PipelineSnapshot{
		Producer: models.ProducerSnapshot{EventsProduced: 2, MaxEvents: 4},
		Consumer: models.ConsumerSnapshot{EventsConsumed: 1, TotalEvents: 4, AlertCount: 1},
		Queue:    models.QueueStats{Length: 1},
	})

	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Produced [##########----------] 2/4"))
	assert.Equal(t, "Queue depth: 1  Alerts: 1", lines[2])
}
