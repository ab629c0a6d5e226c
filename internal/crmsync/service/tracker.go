package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 2000

type TrackerParams struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

// Tracker owns the per-integration SyncState row. Each method writes only
// the fields its caller owns.
type Tracker struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        domain.Repository
	integration string
}

func NewTracker(p TrackerParams) *Tracker {
	return &Tracker{
		db:          p.DB,
		log:         p.Log.Named("crmsync.tracker"),
		repo:        p.Repo,
		integration: domain.IntegrationClickUp,
	}
}

// RecordSuccess refreshes last_successful_sync_at and clears last_error.
func (t *Tracker) RecordSuccess(ctx context.Context, at time.Time) error {
	at = at.UTC()
	return t.repo.UpsertState(ctx, t.db, domain.StateUpdate{
		Integration:          t.integration,
		LastSuccessfulSyncAt: &at,
		ClearError:           true,
		UpdatedAt:            at,
	})
}

func (t *Tracker) RecordFullSync(ctx context.Context, at time.Time) error {
	at = at.UTC()
	return t.repo.UpsertState(ctx, t.db, domain.StateUpdate{
		Integration:    t.integration,
		LastFullSyncAt: &at,
		UpdatedAt:      at,
	})
}

func (t *Tracker) RecordFailure(ctx context.Context, message string, at time.Time) error {
	at = at.UTC()
	message = truncate(message, maxErrorLength)
	return t.repo.UpsertState(ctx, t.db, domain.StateUpdate{
		Integration: t.integration,
		LastError:   &message,
		UpdatedAt:   at,
	})
}

func (t *Tracker) RecordWebhook(ctx context.Context, at time.Time) error {
	at = at.UTC()
	return t.repo.UpsertState(ctx, t.db, domain.StateUpdate{
		Integration:   t.integration,
		LastWebhookAt: &at,
		UpdatedAt:     at,
	})
}

// Get returns the current state, or nil when nothing was ever recorded.
func (t *Tracker) Get(ctx context.Context) (*domain.SyncState, error) {
	return t.repo.GetState(ctx, t.db, t.integration)
}

// HealthOf classifies a state for the monitoring view.
func HealthOf(state *domain.SyncState) domain.Health {
	switch {
	case state == nil:
		return domain.HealthNeverSynced
	case state.LastError != nil:
		return domain.HealthFailing
	case state.LastSuccessfulSyncAt == nil:
		return domain.HealthNeverSynced
	default:
		return domain.HealthOK
	}
}

// truncate caps value at limit bytes without splitting a rune. Invalid
// UTF-8 is replaced since postgres rejects it in text columns.
func truncate(value string, limit int) string {
	value = strings.ToValidUTF8(value, "\uFFFD")
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
