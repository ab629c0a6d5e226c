package service

import (
	"context"
	"time"

	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type MonitorParams struct {
	fx.In

	DB           *gorm.DB
	Repo         domain.Repository
	Tracker      *Tracker
	Orchestrator *Orchestrator
}

// Monitor serves the read-only sync dashboard.
type Monitor struct {
	db           *gorm.DB
	repo         domain.Repository
	tracker      *Tracker
	orchestrator *Orchestrator
}

func NewMonitor(p MonitorParams) *Monitor {
	return &Monitor{
		db:           p.DB,
		repo:         p.Repo,
		tracker:      p.Tracker,
		orchestrator: p.Orchestrator,
	}
}

func (m *Monitor) Status(ctx context.Context) (domain.StatusView, error) {
	state, err := m.tracker.Get(ctx)
	if err != nil {
		return domain.StatusView{}, err
	}
	runs, err := m.repo.ListRuns(ctx, m.db, domain.IntegrationClickUp, 5)
	if err != nil {
		return domain.StatusView{}, err
	}
	counts, err := m.repo.CountRecords(ctx, m.db)
	if err != nil {
		return domain.StatusView{}, err
	}
	return domain.StatusView{
		Configured:   m.orchestrator != nil && m.orchestrator.Configured(),
		Health:       HealthOf(state),
		State:        state,
		LatestRuns:   runs,
		RecordCounts: counts,
	}, nil
}

func (m *Monitor) ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	switch {
	case limit <= 0:
		limit = defaultRunLimit
	case limit > maxRunLimit:
		limit = maxRunLimit
	}
	return m.repo.ListRuns(ctx, m.db, domain.IntegrationClickUp, limit)
}

func (m *Monitor) ListRecords(ctx context.Context, req domain.ListRecordsRequest) (domain.ListRecordsResponse, error) {
	if req.EntityType != "" && !validEntityType(req.EntityType) {
		return domain.ListRecordsResponse{}, domain.ErrInvalidEntity
	}
	records, err := m.repo.ListRecords(ctx, m.db, req.RecordFilter, req.Pagination)
	if err != nil {
		return domain.ListRecordsResponse{}, err
	}
	page, info := pagination.BuildCursorPageInfo(records, req.Pagination.Limit(), func(r *domain.ExternalRecord) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String(), CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	out := make([]domain.ExternalRecord, 0, len(page))
	for _, record := range page {
		out = append(out, *record)
	}
	return domain.ListRecordsResponse{PageInfo: info, Records: out}, nil
}

func (m *Monitor) ListWebhookEvents(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 || limit > maxRunLimit {
		limit = defaultRunLimit
	}
	return m.repo.ListWebhookEvents(ctx, m.db, domain.IntegrationClickUp, limit)
}

func validEntityType(entityType string) bool {
	for _, known := range config.ClickUpEntityTypes {
		if known == entityType {
			return true
		}
	}
	return false
}
