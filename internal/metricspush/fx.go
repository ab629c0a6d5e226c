package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/kantoor/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(startWorker),
)

func startWorker(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	log = log.Named("metricspush")
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics push worker",
				zap.String("exporter", cfg.MetricsPush.Exporter),
				zap.Duration("interval", interval),
			)
			go func() {
				defer close(done)
				Run(ctx, pusher, prometheus.DefaultGatherer, interval, log)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			// Final snapshot so the last scheduler pass is not lost.
			if err := pusher.Push(stopCtx, prometheus.DefaultGatherer); err != nil {
				log.Warn("final metrics push failed", zap.Error(err))
			}
			return nil
		},
	})
}

// Run pushes on every tick until ctx is cancelled. Push failures are logged
// and retried on the next tick.
func Run(ctx context.Context, pusher Pusher, gatherer prometheus.Gatherer, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
			if err := pusher.Push(pushCtx, gatherer); err != nil {
				log.Warn("metrics push failed", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
