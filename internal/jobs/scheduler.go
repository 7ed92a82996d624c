// Package jobs runs background housekeeping on cron.
// scheduler.go sets the schedule: expired spend offers every 15 minutes,
// stale conversations and admin sessions hourly, a stats line daily.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/features/settings"
)

// Schedules, in the configured timezone.
const (
	SpendSweepSpec   = "*/15 * * * *"
	HourlySweepSpec  = "0 * * * *"
	DailyStatsSpec   = "0 0 * * *"
	sweepJobDeadline = 2 * time.Minute
)

// SpendSweeper drops pending spend offers past their TTL.
type SpendSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// ConversationSweeper drops abandoned conversation steps.
type ConversationSweeper interface {
	SweepStale(ctx context.Context, now time.Time) (int, error)
}

// SessionSweeper drops expired admin sessions.
type SessionSweeper interface {
	SweepExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// StatsSource reads the global counters.
type StatsSource interface {
	Stats(ctx context.Context) (settings.Stats, error)
}

// Deps are the jobs' collaborators.
type Deps struct {
	Spends        SpendSweeper
	Conversations ConversationSweeper
	Sessions      SessionSweeper
	Stats         StatsSource
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron *cron.Cron
	deps Deps
	now  func() time.Time
}

// NewScheduler creates a scheduler running in loc.
func NewScheduler(loc *time.Location, d Deps) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		deps: d,
		now:  time.Now,
	}
}

// Start registers the jobs and starts cron. Jobs stop picking up work once
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		run  func(context.Context)
	}{
		{SpendSweepSpec, s.sweepSpends},
		{HourlySweepSpec, s.sweepHourly},
		{DailyStatsSpec, s.logStats},
	}
	for _, j := range jobs {
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() {
			if ctx.Err() != nil {
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, sweepJobDeadline)
			defer cancel()
			run(jobCtx)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"component": "scheduler",
		"location":  s.cron.Location().String(),
		"jobs":      len(jobs),
	}).Info("Scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.WithField("component", "scheduler").Info("Scheduler stopped")
}

func (s *Scheduler) sweepSpends(ctx context.Context) {
	if s.deps.Spends == nil {
		return
	}
	n, err := s.deps.Spends.SweepExpired(ctx, s.now())
	report("pending_spends", n, err)
}

func (s *Scheduler) sweepHourly(ctx context.Context) {
	now := s.now()
	if s.deps.Conversations != nil {
		n, err := s.deps.Conversations.SweepStale(ctx, now)
		report("conversations", n, err)
	}
	if s.deps.Sessions != nil {
		n, err := s.deps.Sessions.SweepExpiredSessions(ctx, now)
		report("admin_sessions", n, err)
	}
}

func (s *Scheduler) logStats(ctx context.Context) {
	if s.deps.Stats == nil {
		return
	}
	st, err := s.deps.Stats.Stats(ctx)
	if err != nil {
		log.WithError(err).WithField("component", "scheduler").Error("[CRON] stats read failed")
		return
	}
	log.WithFields(log.Fields{
		"component": "scheduler",
		"users":     st.Users,
		"files":     st.Files,
		"downloads": st.Downloads,
		"updates":   st.Updates,
	}).Info("[CRON] Daily stats")
}

func report(what string, n int, err error) {
	entry := log.WithFields(log.Fields{
		"component": "scheduler",
		"sweep":     what,
		"removed":   n,
	})
	if err != nil {
		entry.WithError(err).Error("[CRON] sweep failed")
		return
	}
	if n > 0 {
		entry.Info("[CRON] sweep done")
	}
}
