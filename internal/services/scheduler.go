package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tgflix/internal/metrics"
)

type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
	// AtStartup — дополнительно выполнить один раз при запуске.
	AtStartup bool
}

// cronLogger — адаптер zap для cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("[cron] "+msg, zap.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("[cron] "+msg, zap.Error(err), zap.Any("kv", kv))
}

// Scheduler — периодические задачи на robfig/cron. Упавший запуск логируется
// и повторяется один раз через retryDelay.
type Scheduler struct {
	cron       *cron.Cron
	clock      clockwork.Clock
	retryDelay time.Duration
	log        *zap.Logger
	ctx        context.Context
	startup    []Job
}

func NewScheduler(loc *time.Location, retryDelay time.Duration, clock clockwork.Clock, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		clock:      clock,
		retryDelay: retryDelay,
		log:        log,
		ctx:        context.Background(),
	}
}

func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Spec, func() { s.RunJob(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	if job.AtStartup {
		s.startup = append(s.startup, job)
	}
	return nil
}

// RunJob выполняет задачу с одной повторной попыткой.
func (s *Scheduler) RunJob(ctx context.Context, job Job) {
	err := job.Run(ctx)
	if err == nil {
		metrics.SweepRuns.WithLabelValues(job.Name, "ok").Inc()
		return
	}
	metrics.SweepRuns.WithLabelValues(job.Name, "error").Inc()
	s.log.Error("[scheduler] job failed, retrying", zap.String("job", job.Name), zap.Duration("in", s.retryDelay), zap.Error(err))
	if sleepCtx(ctx, s.clock, s.retryDelay) != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		metrics.SweepRuns.WithLabelValues(job.Name, "error").Inc()
		s.log.Error("[scheduler] job retry failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	metrics.SweepRuns.WithLabelValues(job.Name, "ok").Inc()
}

// Run запускает cron и блокируется до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	for _, job := range s.startup {
		s.RunJob(ctx, job)
	}
	s.cron.Start()
	s.log.Info("[scheduler] started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("[scheduler] stopped")
	return nil
}

// AccessJobs — задачи контроля доступа: истечение токенов, чистка неактивных, суточный сброс.
func AccessJobs(a *AccessService, ops Notifier, pruneAfter, ticketTTL time.Duration) []Job {
	return []Job{
		{
			Name: "expire",
			Spec: "@every 5m",
			Run: func(ctx context.Context) error {
				threshold := a.Now().Add(-a.settings.Snapshot().TokenTimeout)
				n, err := a.ExpireSweep(ctx, threshold)
				if n > 0 && ops != nil {
					ops.Notify(ctx, fmt.Sprintf("⌛ <b>Tokens expired:</b> %d", n))
				}
				return err
			},
		},
		{
			Name: "prune",
			Spec: "@every 24h",
			Run: func(ctx context.Context) error {
				_, err := a.InactivityPruneSweep(ctx, a.Now().Add(-pruneAfter))
				if err != nil {
					return err
				}
				_, err = a.PurgeTickets(ctx, ticketTTL)
				return err
			},
		},
		{
			Name:      "rollover",
			Spec:      "0 0 * * *",
			AtStartup: true,
			Run: func(ctx context.Context) error {
				_, err := a.DailyRollover(ctx)
				return err
			},
		},
	}
}
