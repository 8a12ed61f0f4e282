package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/approval"
	"github.com/ksred/navflow-api/internal/config"
	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/notify"
)

// Scheduler drives the daily valuation cycle: at the configured cutoff on
// each trading day it runs the batch, retries transient failures, and opens
// the approval workflow for clean runs.
type Scheduler struct {
	cron     *cron.Cron
	nav      *nav.Service
	approval *approval.Service
	notifier notify.Notifier
	calendar *Calendar
	cfg      config.SchedulerConfig
	logger   zerolog.Logger

	// sleep is replaceable in tests to skip real retry delays.
	sleep func(time.Duration)
}

func NewScheduler(navService *nav.Service, approvalService *approval.Service, notifier notify.Notifier, cfg config.SchedulerConfig) (*Scheduler, error) {
	calendar, err := NewCalendar(cfg.Timezone, cfg.Holidays)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(calendar.Location())),
		nav:      navService,
		approval: approvalService,
		notifier: notifier,
		calendar: calendar,
		cfg:      cfg,
		logger:   log.With().Str("service", "scheduler").Logger(),
		sleep:    time.Sleep,
	}, nil
}

// Start registers the daily cutoff job and begins the cron loop.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("%d %d * * *", s.cfg.CutoffMin, s.cfg.CutoffHour)
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule daily NAV job: %w", err)
	}
	s.cron.Start()

	s.logger.Info().
		Str("cron", spec).
		Str("timezone", s.cfg.Timezone).
		Time("next_run", s.NextRunTime(time.Now())).
		Msg("scheduler started")

	return nil
}

// Stop halts the cron loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// NextRunTime returns the next cutoff instant at or after the given time,
// skipping weekends and holidays.
func (s *Scheduler) NextRunTime(from time.Time) time.Time {
	return s.calendar.NextRunTime(from, s.cfg.CutoffHour, s.cfg.CutoffMin)
}

func (s *Scheduler) runScheduled() {
	now := time.Now().In(s.calendar.Location())
	if !s.calendar.IsTradingDay(now) {
		s.logger.Info().
			Str("date", now.Format("2006-01-02")).
			Msg("skipping run on non-trading day")
		return
	}
	s.RunValuationDay(now)
}

// RunValuationDay executes the batch for a date with the configured retry
// policy, then opens the approval workflow when every class completed.
func (s *Scheduler) RunValuationDay(date time.Time) {
	logger := s.logger.With().Str("valuation_date", date.Format("2006-01-02")).Logger()

	run, err := s.nav.RunDailyNAV(date)
	if err != nil {
		logger.Error().Err(err).Msg("daily NAV run failed to execute")
		return
	}

	for attempt := 1; run.Status == nav.RunStatusFailed && attempt <= s.cfg.MaxRetries; attempt++ {
		logger.Warn().
			Int("attempt", attempt).
			Int("failed_classes", run.FailedClasses).
			Msg("run failed, retrying")

		s.sleep(s.cfg.RetryDelay)

		retried, err := s.nav.RetryRun(date)
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("retry failed to execute")
			break
		}
		run = retried
	}

	if s.notifier != nil {
		s.notifier.RunFinished(run.RunID, date.Format("2006-01-02"), run.Status,
			run.TotalClasses, run.CompletedClasses, run.FailedClasses)
	}

	if run.Status != nav.RunStatusAwaitingApproval {
		logger.Error().
			Str("run_id", run.RunID).
			Str("status", run.Status).
			Msg("run did not reach approval after retries")
		return
	}

	s.checkAutoApproveThreshold(run, logger)

	if _, err := s.approval.CreateForRun(run.RunID); err != nil {
		logger.Error().Err(err).Str("run_id", run.RunID).Msg("failed to open approval workflow")
		return
	}

	logger.Info().Str("run_id", run.RunID).Msg("valuation day complete, awaiting approval")
}

// checkAutoApproveThreshold logs whether every record's day-over-day movement
// sits within the configured threshold. Sign-off itself always stays manual.
func (s *Scheduler) checkAutoApproveThreshold(run *nav.NAVRun, logger zerolog.Logger) {
	if s.cfg.AutoApprovePct <= 0 {
		return
	}

	records, err := s.nav.GetDB().GetRunRecords(run.RunID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load run records for threshold check")
		return
	}

	threshold := decimal.NewFromFloat(s.cfg.AutoApprovePct)
	maxChange := decimal.Zero
	for _, record := range records {
		if change := record.ChangePercent.Abs(); change.GreaterThan(maxChange) {
			maxChange = change
		}
	}

	logger.Info().
		Str("run_id", run.RunID).
		Str("max_change_pct", maxChange.String()).
		Str("threshold_pct", threshold.String()).
		Bool("within_threshold", maxChange.LessThanOrEqual(threshold)).
		Msg("auto-approve threshold evaluated")
}
