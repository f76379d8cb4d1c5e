// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"arcade-backend/logger"
	"arcade-backend/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

type SchedulerConfig struct {
	SweepInterval time.Duration
	// Cron expressions evaluated in UTC.
	DailyFinalizeCron  string
	WeeklyFinalizeCron string
}

// Scheduler runs the periodic maintenance jobs: the stale-session sweep and
// finalization of the previous daily and weekly pools.
type Scheduler struct {
	sched gocron.Scheduler
	ctx   context.Context
}

func NewScheduler(sessions *SessionService, pools *PrizePoolService, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, ctx: context.Background()}
	if err := s.register(sessions, pools, cfg); err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register(sessions *SessionService, pools *PrizePoolService, cfg SchedulerConfig) error {
	if err := s.add("session-sweep", gocron.DurationJob(cfg.SweepInterval), func(ctx context.Context) error {
		_, err := sessions.ExpireOldSessions(ctx, 0)
		return err
	}); err != nil {
		return err
	}

	if err := s.AddCronJob("finalize-daily", cfg.DailyFinalizeCron, func(ctx context.Context) error {
		_, err := pools.FinalizePreviousPeriod(ctx, models.PeriodDaily)
		return err
	}); err != nil {
		return err
	}

	if err := s.AddCronJob("finalize-weekly", cfg.WeeklyFinalizeCron, func(ctx context.Context) error {
		_, err := pools.FinalizePreviousPeriod(ctx, models.PeriodWeekly)
		return err
	}); err != nil {
		return err
	}
	return nil
}

// AddCronJob registers fn under a five-field cron expression.
func (s *Scheduler) AddCronJob(name, crontab string, fn func(ctx context.Context) error) error {
	return s.add(name, gocron.CronJob(crontab, false), fn)
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		def,
		gocron.NewTask(func() { s.run(name, fn) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// run executes one job invocation. Failures are logged, never propagated.
func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	start := time.Now()
	log := logger.WithFields(logrus.Fields{"job": name})
	if err := fn(s.ctx); err != nil {
		log.WithError(err).Error("scheduled job failed")
		return
	}
	log.WithField("elapsed", time.Since(start).String()).Debug("scheduled job finished")
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running jobs; they receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.sched.Start()
	logger.WithFields(logrus.Fields{"jobs": s.JobNames()}).Info("scheduler started")
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
