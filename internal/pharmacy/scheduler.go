package pharmacy

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type SchedulerConfig struct {
	// RefillScanSchedule is a five-field cron expression. Empty disables the job.
	RefillScanSchedule string        `envconfig:"REFILL_SCAN_SCHEDULE" default:"0 8 * * *"`
	ScanTimeout        time.Duration `envconfig:"REFILL_SCAN_TIMEOUT" default:"30s"`
}

// Scheduler runs the predictive refill scan on a cron schedule and publishes
// the alert count as a gauge.
type Scheduler struct {
	cron    *cron.Cron
	scanner *Scanner
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewScheduler(scanner *Scanner, cfg SchedulerConfig, m *metrics.Metrics) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		scanner: scanner,
		metrics: m,
		timeout: cfg.ScanTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if cfg.RefillScanSchedule == "" {
		return s, nil
	}

	sched, err := parser.Parse(cfg.RefillScanSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid refill scan schedule %q: %w", cfg.RefillScanSchedule, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		_, _ = s.RunOnce(context.Background())
	}))
	return s, nil
}

// RunOnce performs a single refill scan and updates the gauge.
func (s *Scheduler) RunOnce(ctx context.Context) ([]RefillAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	alerts, err := s.scanner.RefillAlerts(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Refill scan failed")
		return nil, err
	}
	s.metrics.SetRefillAlerts(len(alerts))
	for _, a := range alerts {
		logx.Info().
			Str("patient_id", a.PatientID).
			Str("medicine", a.Medicine).
			Int("days_ago", a.DaysAgo).
			Msg("Refill due")
	}
	logx.Info().Int("alerts", len(alerts)).Msg("Refill scan completed")
	return alerts, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
