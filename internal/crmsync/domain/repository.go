package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordFilter struct {
	EntityType string
	ListID     string
	Archived   *bool
}

// StateUpdate names the SyncState fields one writer owns. Nil fields are
// left untouched; ClearError sets last_error to NULL.
type StateUpdate struct {
	Integration          string
	LastSuccessfulSyncAt *time.Time
	LastFullSyncAt       *time.Time
	LastWebhookAt        *time.Time
	LastError            *string
	ClearError           bool
	UpdatedAt            time.Time
}

type Repository interface {
	UpsertRecords(ctx context.Context, db *gorm.DB, records []ExternalRecord) (int, error)
	ListRecords(ctx context.Context, db *gorm.DB, filter RecordFilter, page pagination.Pagination) ([]*ExternalRecord, error)
	CountRecords(ctx context.Context, db *gorm.DB) (map[string]int64, error)

	InsertRun(ctx context.Context, db *gorm.DB, run *SyncRun) error
	FinishRun(ctx context.Context, db *gorm.DB, run *SyncRun) error
	FindRun(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SyncRun, error)
	ListRuns(ctx context.Context, db *gorm.DB, integration string, limit int) ([]SyncRun, error)

	UpsertState(ctx context.Context, db *gorm.DB, update StateUpdate) error
	GetState(ctx context.Context, db *gorm.DB, integration string) (*SyncState, error)

	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id string, runID snowflake.ID, processedAt time.Time) error
	ListWebhookEvents(ctx context.Context, db *gorm.DB, integration string, limit int) ([]WebhookEvent, error)
}
