package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aidenletourneau/gated_pipeline/server/internal/api"
	"github.com/aidenletourneau/gated_pipeline/server/internal/config"
	"github.com/aidenletourneau/gated_pipeline/server/internal/driver"
	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/monitoring"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
	"github.com/aidenletourneau/gated_pipeline/server/internal/store"
	"github.com/aidenletourneau/gated_pipeline/server/internal/websocket"
)

func main() {
	// Load .env file if it exists (ignore errors for local development)
	// In production, environment variables should be set directly
	_ = godotenv.Load()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	profile := flag.String("profile", cfg.Pipeline.ProfileFile, "Path to run profile YAML file")
	port := flag.String("port", cfg.Server.Port, "Server port")
	exitAfterRun := flag.Bool("exit-after-run", false, "Shut down once the run has finished")
	flag.Parse()

	if *profile != "" && *profile != cfg.Pipeline.ProfileFile {
		cfg.Pipeline.ProfileFile = *profile
		if err := cfg.Pipeline.LoadProfile(*profile); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	// Initialize components
	logStore := logging.NewLogStore(logger, cfg.Logging.MaxEntries)
	metrics := monitoring.NewMetrics()
	watchers := registry.NewRegistry(registry.DefaultBacklog)
	stopForwarding := websocket.ForwardLogs(logStore, watchers)
	defer stopForwarding()

	// Run reports are archived when a database is configured
	var runStore *store.RunStore
	if cfg.Store.DatabaseURL != "" {
		runStore, err = store.NewRunStore(cfg.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize run store: %w", err)
		}
		defer runStore.Close()
	}

	driverOpts := driver.Options{
		Pipeline: cfg.Pipeline,
		Logs:     logStore,
		Logger:   logger,
		Metrics:  metrics,
		Watchers: watchers,
	}
	deps := api.Deps{
		Logs:     logStore,
		Watchers: watchers,
		Metrics:  metrics,
	}
	if runStore != nil {
		driverOpts.Archive = runStore
		deps.Runs = runStore
	}
	if cfg.RateLimit.Enabled {
		deps.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	d, err := driver.New(driverOpts)
	if err != nil {
		return err
	}
	deps.Pipeline = d
	deps.WebSocket = websocket.HandleWebSocket(watchers, logStore, metrics, d.Snapshot)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, *port),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logStore.LogAndStore("info", "Server starting on %s", srv.Addr)
		logStore.LogAndStore("info", "WebSocket endpoint: ws://%s/ws", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		report, err := d.Run(gctx)
		if err != nil {
			logger.Error("run finished with error", zap.Error(err))
		} else {
			logger.Info("run finished",
				zap.String("run_id", report.RunID),
				zap.Int("produced", report.EventsProduced),
				zap.Int("consumed", report.EventsConsumed),
				zap.Int("alerts", report.AlertCount),
				zap.Float64("mean_latency_ms", report.MeanLatencyMs),
			)
		}
		if *exitAfterRun {
			stop()
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
