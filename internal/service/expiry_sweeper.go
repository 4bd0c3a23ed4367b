package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the impersonation expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

const sweepTimeout = 10 * time.Second

// ExpirySweeperOptions groups dependencies for ExpirySweeper.
type ExpirySweeperOptions struct {
	Auth     *AuthService // Required
	Schedule string       // cron spec or descriptor; empty uses DefaultSweepSchedule
	Logger   *slog.Logger // Optional
}

// ExpirySweeper periodically stops impersonation sessions that outlived their
// maximum duration and drops elapsed rate-limit windows.
type ExpirySweeper struct {
	auth     *AuthService
	schedule string
	logger   *slog.Logger
}

// NewExpirySweeper validates the schedule and constructs a sweeper.
func NewExpirySweeper(opts ExpirySweeperOptions) (*ExpirySweeper, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("expiry sweeper requires an auth service")
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{auth: opts.Auth, schedule: schedule, logger: logger}, nil
}

// Schedule returns the effective cron schedule.
func (s *ExpirySweeper) Schedule() string { return s.schedule }

// SweepOnce runs one sweep and reports whether a session was stopped and how
// many limiter windows were dropped.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (bool, int) {
	expired := s.auth.EnforceImpersonationExpiry(ctx)
	pruned := s.auth.guard.PruneRateWindows()
	if expired || pruned > 0 {
		s.logger.DebugContext(ctx, "impersonation sweep", "expired", expired, "pruned_windows", pruned)
	}
	return expired, pruned
}

// Run sweeps on schedule until ctx is done, then waits for a running sweep to finish.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	log := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
		defer cancel()
		s.SweepOnce(sweepCtx)
	}); err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}

	s.logger.InfoContext(ctx, "impersonation expiry sweeper started", "schedule", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("impersonation expiry sweeper stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
