package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"moneyboxes/internal/log"
)

// PendingReporter sends reports that were not delivered yet.
type PendingReporter interface {
	ProcessPending(ctx context.Context) (int, error)
}

// ReportSweeperConfig holds configuration for the report sweeper
type ReportSweeperConfig struct {
	// PollInterval is how often to look for unsent reports (default: 5m)
	PollInterval time.Duration
}

// DefaultReportSweeperConfig returns sensible defaults
func DefaultReportSweeperConfig() ReportSweeperConfig {
	return ReportSweeperConfig{
		PollInterval: 5 * time.Minute,
	}
}

// ReportSweeper periodically drains unsent cycle reports. It covers cycles
// whose completion event never reached the broker.
type ReportSweeper struct {
	reporter PendingReporter
	config   ReportSweeperConfig
	logger   *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReportSweeper creates a new report sweeper
func NewReportSweeper(reporter PendingReporter, config ReportSweeperConfig, logger *log.Logger) *ReportSweeper {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultReportSweeperConfig().PollInterval
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReportSweeper{
		reporter: reporter,
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (s *ReportSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("report sweeper is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.runLoop(ctx, stopCh, doneCh)

	s.logger.InfoContext(ctx, "Report sweeper started", "poll_interval", s.config.PollInterval)
	return nil
}

// Stop gracefully stops the sweeper and waits for completion. After a timed
// out Stop it may be called again to keep waiting for the loop to exit.
func (s *ReportSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Report sweeper stopped gracefully")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Report sweeper stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the sweeper is currently running
func (s *ReportSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReportSweeper) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Sweep immediately on startup
	s.sweep(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReportSweeper) sweep(ctx context.Context) {
	n, err := s.reporter.ProcessPending(ctx)
	if err != nil {
		s.logger.LogError(ctx, "Pending report sweep failed", err, log.OpConsume,
			log.LogFields{log.FieldCount: n})
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Sent pending reports", log.FieldCount, n)
	}
}
