// Package scanner raises deadline alerts for processed artifacts on a schedule.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tradecomply/internal/metrics"
	"tradecomply/internal/model"
)

// ArtifactLister is the part of the artifact repository the scanner reads
type ArtifactLister interface {
	ListByStatus(ctx context.Context, status model.Status, limit int, newestFirst bool) ([]model.Artifact, error)
}

// StatusCounter is implemented by stores that can report per-status totals
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.Status]int64, error)
}

// AlertCreator is the part of the alert repository the scanner writes
type AlertCreator interface {
	CreateIfAbsent(ctx context.Context, artifactID, alertType, message string) (bool, error)
}

// Notifier is told about every newly created alert
type Notifier interface {
	NotifyAlert(ctx context.Context, artifact *model.Artifact, message string) error
}

// Config controls the schedule and warning window
type Config struct {
	Schedule          string
	WarningWindowDays int
	Location          *time.Location
	Limit             int
}

// ScanReport summarises one scan
type ScanReport struct {
	Scanned  int `json:"scanned"`
	Warnings int `json:"warnings"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Scanner periodically checks processed artifacts for upcoming deadlines
type Scanner struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    Config
	artifacts ArtifactLister
	alerts    AlertCreator
	notifier  Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	// lastRun has its own lock so a starting scan never waits on Stop
	lastRun   time.Time
	lastRunMu sync.Mutex
}

// Option customizes a Scanner
type Option func(*Scanner)

// WithNotifier sets the notifier invoked for new alerts
func WithNotifier(n Notifier) Option {
	return func(s *Scanner) {
		s.notifier = n
	}
}

// WithMetrics sets the metrics the scanner reports to
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used to decide today's date
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new scanner
func New(cfg Config, artifacts ArtifactLister, alerts AlertCreator, opts ...Option) *Scanner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WarningWindowDays <= 0 {
		cfg.WarningWindowDays = 90
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scanner{
		cron:      cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Location)),
		config:    cfg,
		artifacts: artifacts,
		alerts:    alerts,
		metrics:   metrics.NewDiscard(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the scanner
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scanner is already running")
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	entryID, err := s.cron.AddFunc(s.config.Schedule, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scanner started with schedule: %s", s.config.Schedule)
	return nil
}

// Stop stops the scanner and waits up to 30s for a running scan
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()
	s.cron.Remove(s.entryID)
	s.isRunning = false
	s.mu.Unlock()

	// wait without holding mu; a running scan may still need the scanner
	select {
	case <-ctx.Done():
		logrus.Info("Scanner stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scanner stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scanner is running
func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce runs one scan immediately (for manual triggering)
func (s *Scanner) RunOnce(ctx context.Context) (ScanReport, error) {
	logrus.Info("Running compliance scan once")
	return s.Scan(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scanner) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when the last scan started
func (s *Scanner) GetLastRun() time.Time {
	s.lastRunMu.Lock()
	defer s.lastRunMu.Unlock()
	return s.lastRun
}

// Wait waits for running scans to finish
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) runScheduled() {
	s.mu.RLock()
	ctx := s.ctx
	running := s.isRunning
	s.mu.RUnlock()
	if !running {
		logrus.Info("Scanner not running, skipping scan")
		return
	}

	if _, err := s.Scan(ctx); err != nil {
		logrus.Errorf("Compliance scan failed: %v", err)
	}
}

// Scan checks every processed artifact and raises at most one deadline
// warning per artifact. Overlapping scans are safe: the alert store decides
// which of them creates the alert.
func (s *Scanner) Scan(ctx context.Context) (ScanReport, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	started := s.now()
	s.lastRunMu.Lock()
	s.lastRun = started
	s.lastRunMu.Unlock()
	defer func() {
		s.metrics.ScanTime.Observe(time.Since(started).Seconds())
	}()

	var report ScanReport
	today := calendarDate(started, s.config.Location)

	artifacts, err := s.artifacts.ListByStatus(ctx, model.StatusProcessed, s.config.Limit, false)
	if err != nil {
		return report, fmt.Errorf("failed to list processed artifacts: %w", err)
	}

	for i := range artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		artifact := &artifacts[i]
		report.Scanned++

		log := logrus.WithField("artifact_id", artifact.ID)
		if artifact.Extraction == nil || artifact.Extraction.Deadline == "" {
			report.Skipped++
			continue
		}
		deadline, ok := ParseDeadline(artifact.Extraction.Deadline, s.config.Location)
		if !ok {
			log.Debugf("Skipping unparsable deadline %q", artifact.Extraction.Deadline)
			report.Skipped++
			continue
		}
		if !InWindow(today, deadline, s.config.WarningWindowDays) {
			continue
		}
		report.Warnings++

		message := WarningMessage(artifact.Extraction.DocType, deadline)
		created, err := s.alerts.CreateIfAbsent(ctx, artifact.ID, model.AlertTypeDeadlineWarning, message)
		if err != nil {
			log.WithError(err).Error("Failed to record deadline alert")
			report.Errors++
			continue
		}
		if !created {
			continue
		}

		report.Created++
		s.metrics.AlertsCreated.Inc()
		log.WithField("deadline", deadline.Format("2006-01-02")).Info("Deadline alert created")

		if s.notifier != nil {
			if err := s.notifier.NotifyAlert(ctx, artifact, message); err != nil {
				log.WithError(err).Warn("Failed to send alert notification")
			}
		}
	}

	s.recordStatusCounts(ctx)
	s.metrics.ScansCompleted.Inc()
	logrus.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"warnings": report.Warnings,
		"created":  report.Created,
		"skipped":  report.Skipped,
		"errors":   report.Errors,
	}).Info("Compliance scan completed")
	return report, nil
}

func (s *Scanner) recordStatusCounts(ctx context.Context) {
	counter, ok := s.artifacts.(StatusCounter)
	if !ok {
		return
	}
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to count artifacts")
		return
	}
	for _, status := range []model.Status{model.StatusPending, model.StatusProcessed, model.StatusFailed} {
		s.metrics.ArtifactsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// WarningMessage is the text stored on a deadline alert
func WarningMessage(docType string, deadline time.Time) string {
	if docType == "" {
		docType = "Document"
	}
	return fmt.Sprintf("Action Required: %s expires on %s", docType, deadline.Format("2006-01-02"))
}
