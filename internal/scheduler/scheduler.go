package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	obsmetrics "github.com/smallbiznis/kantoor/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kantoor/internal/observability/tracing"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobClickUpSync = "clickup_sync"

	lockKeyClickUpSync = "kantoor:scheduler:clickup_sync"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Runner  domain.Runner
	Locker  *ratelimit.Locker   `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Config  Config              `optional:"true"`
}

// Scheduler triggers a scheduled sync pass every RunInterval. Only one
// instance runs a given tick when the locker is backed by redis.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	runner  domain.Runner
	locker  *ratelimit.Locker
	metrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Runner == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = ratelimit.NewLocker(nil)
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		runner:  p.Runner,
		locker:  locker,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	ctx, endSpan := obstracing.StartJobSpan(ctx, name, run.runID)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	endSpan(err)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobClickUpSync, s.cfg.JobTimeout, s.ClickUpSyncJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ClickUpSyncJob runs one scheduled pass. An unconfigured integration and a
// tick already claimed by another instance are both skips, not failures.
func (s *Scheduler) ClickUpSyncJob(ctx context.Context) error {
	lock, err := s.locker.Obtain(ctx, lockKeyClickUpSync, s.cfg.LockTTL)
	if errors.Is(err, ratelimit.ErrNotObtained) {
		s.logger(ctx).Debug("scheduled sync skipped, lock held elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("obtain scheduler lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("release scheduler lock failed", zap.Error(err))
		}
	}()

	tick := s.clock.Now().UTC()
	result, err := s.runner.Run(ctx, domain.RunRequest{
		Source:      domain.SourceScheduled,
		TriggerMeta: map[string]any{"tick": tick.Format(time.RFC3339)},
	})
	if errors.Is(err, domain.ErrNotConfigured) {
		s.logger(ctx).Debug("scheduled sync skipped, clickup not configured")
		return nil
	}
	jobRunFromContext(ctx).AddProcessed(result.Counts.TasksUpserted)
	return err
}
