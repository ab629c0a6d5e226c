package crmsync

import (
	"github.com/smallbiznis/kantoor/internal/clickup"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/internal/crmsync/repository"
	"github.com/smallbiznis/kantoor/internal/crmsync/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("crmsync.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideTaskSource),
	fx.Provide(service.NewTracker),
	fx.Provide(service.NewOrchestrator),
	fx.Provide(func(o *service.Orchestrator) domain.Runner { return o }),
	fx.Provide(service.NewWebhookGuard),
	fx.Provide(service.NewMonitor),
)

// provideTaskSource returns a nil source when ClickUp is not configured so
// the rest of the app still starts; sync calls then fail with
// ErrNotConfigured.
func provideTaskSource(cfg config.Config, log *zap.Logger) domain.TaskSource {
	if !cfg.ClickUp.HasClickUpLists() {
		log.Warn("clickup sync disabled: no list ids configured")
		return nil
	}
	client, err := clickup.NewClient(cfg.ClickUp, log)
	if err != nil {
		log.Warn("clickup sync disabled", zap.Error(err))
		return nil
	}
	return client
}
