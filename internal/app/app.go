package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecomply/internal/blob"
	"tradecomply/internal/config"
	"tradecomply/internal/database"
	"tradecomply/internal/extractor"
	"tradecomply/internal/handler"
	"tradecomply/internal/metrics"
	"tradecomply/internal/queue"
	"tradecomply/internal/repository"
	"tradecomply/internal/retry"
	"tradecomply/internal/router"
	"tradecomply/internal/service/dispatcher"
	"tradecomply/internal/service/notifier"
	"tradecomply/internal/service/scanner"
	"tradecomply/internal/service/worker"
)

// Components is the wired pipeline
type Components struct {
	Config     *config.Config
	DB         *gorm.DB
	Metrics    *metrics.Metrics
	Artifacts  *repository.ArtifactRepository
	Alerts     *repository.AlertRepository
	Queue      queue.Queue
	Dispatcher *dispatcher.Dispatcher
	Worker     *worker.Worker
	Scanner    *scanner.Scanner
}

// Build connects every component selected by cfg. Metrics are registered with reg.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Components, error) {
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c := &Components{
		Config:    cfg,
		DB:        db,
		Metrics:   metrics.NewMetrics(reg),
		Artifacts: repository.NewArtifactRepository(db),
		Alerts:    repository.NewAlertRepository(db),
	}

	c.Queue, err = queue.New(ctx, cfg.Queue, db)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	logrus.Infof("Using %s queue", cfg.Queue.Driver)

	fetcher, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create storage fetcher: %w", err)
	}

	ext, err := extractor.New(cfg.Extractor)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	c.Dispatcher = dispatcher.New(c.Artifacts, c.Queue, c.Metrics)
	c.Worker = worker.New(worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		BatchSize:         cfg.Worker.BatchSize,
		WaitTime:          time.Duration(cfg.Queue.WaitSeconds) * time.Second,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		Backoff:           retry.NewPolicy(cfg.Worker.BackoffBase, cfg.Worker.BackoffMax, cfg.Worker.Jitter, nil),
	}, c.Queue, c.Artifacts, fetcher, ext, worker.WithMetrics(c.Metrics))

	scannerOpts := []scanner.Option{scanner.WithMetrics(c.Metrics)}
	if cfg.Notifier.Enabled {
		n, err := notifier.New(ctx, cfg.Notifier)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		scannerOpts = append(scannerOpts, scanner.WithNotifier(n))
		logrus.Info("Alert emails enabled")
	}
	c.Scanner = scanner.New(scanner.Config{
		Schedule:          cfg.Scanner.ScanSchedule(),
		WarningWindowDays: cfg.Scanner.WarningWindowDays,
		Location:          cfg.Scanner.Location(),
		Limit:             cfg.Scanner.Limit,
	}, c.Artifacts, c.Alerts, scannerOpts...)

	return c, nil
}

// Close releases the queue and database
func (c *Components) Close() {
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			logrus.Errorf("Failed to close queue: %v", err)
		}
	}
	if c.DB != nil {
		if err := database.Close(c.DB); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}
}

// Serve runs the HTTP API, the worker and the scanner until ctx is done, then
// shuts them down gracefully.
func Serve(ctx context.Context, c *Components) error {
	cfg := c.Config
	h := handler.NewHandlers(c.DB, c.Artifacts, c.Alerts, c.Dispatcher, c.Scanner)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scanner.Enabled {
		if err := c.Scanner.Start(); err != nil {
			return fmt.Errorf("failed to start scanner: %w", err)
		}
	}

	var wg sync.WaitGroup
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if cfg.Worker.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Worker.Run(workerCtx); err != nil {
				logrus.Errorf("Worker stopped with error: %v", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := c.Scanner.Stop(); err != nil {
		logrus.Errorf("Failed to stop scanner: %v", err)
	}
	c.Scanner.Wait()

	cancelWorker()
	wg.Wait()

	logrus.Info("Server stopped gracefully")
	return runErr
}
