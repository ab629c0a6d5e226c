package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 100

var recordUpdateColumns = []string{
	"entity_type", "clickup_list_id", "name", "status", "url", "archived", "active",
	"assignees", "tags", "custom_fields", "due_date", "date_created", "date_updated",
	"raw", "synced_at", "updated_at",
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// UpsertRecords writes records keyed by clickup_task_id. Existing rows keep
// their id and created_at; every other column is overwritten.
func (r *repo) UpsertRecords(ctx context.Context, db *gorm.DB, records []domain.ExternalRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "clickup_task_id"}},
			DoUpdates: clause.AssignmentColumns(recordUpdateColumns),
		}).
		CreateInBatches(&records, upsertBatchSize).Error
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *repo) ListRecords(ctx context.Context, db *gorm.DB, filter domain.RecordFilter, page pagination.Pagination) ([]*domain.ExternalRecord, error) {
	var records []*domain.ExternalRecord
	stmt := db.WithContext(ctx).Model(&domain.ExternalRecord{})
	if filter.EntityType != "" {
		stmt = stmt.Where("entity_type = ?", filter.EntityType)
	}
	if filter.ListID != "" {
		stmt = stmt.Where("clickup_list_id = ?", filter.ListID)
	}
	if filter.Archived != nil {
		stmt = stmt.Where("archived = ?", *filter.Archived)
	}
	stmt, err := page.Apply(stmt)
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CountRecords(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	type row struct {
		EntityType string
		Total      int64
	}
	var rows []row
	err := db.WithContext(ctx).Raw(
		`SELECT entity_type, COUNT(*) AS total FROM clickup_records GROUP BY entity_type`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.EntityType] = row.Total
	}
	return counts, nil
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.SyncRun) error {
	return db.WithContext(ctx).Create(run).Error
}

// FinishRun moves a started run to its terminal status. Runs that already
// ended are left alone.
func (r *repo) FinishRun(ctx context.Context, db *gorm.DB, run *domain.SyncRun) error {
	return db.WithContext(ctx).
		Model(&domain.SyncRun{}).
		Where("id = ? AND status = ?", run.ID, domain.RunStatusStarted).
		Updates(map[string]any{
			"status":        run.Status,
			"counts":        run.Counts,
			"ended_at":      run.EndedAt,
			"error_message": run.ErrorMessage,
		}).Error
}

func (r *repo) FindRun(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SyncRun, error) {
	var runs []domain.SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&runs).Error; err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, integration string, limit int) ([]domain.SyncRun, error) {
	var runs []domain.SyncRun
	err := db.WithContext(ctx).
		Where("integration = ?", integration).
		Order("started_at desc, id desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// UpsertState inserts the state row or updates only the columns named by
// the update.
func (r *repo) UpsertState(ctx context.Context, db *gorm.DB, update domain.StateUpdate) error {
	state := domain.SyncState{
		Integration:          update.Integration,
		LastSuccessfulSyncAt: update.LastSuccessfulSyncAt,
		LastFullSyncAt:       update.LastFullSyncAt,
		LastWebhookAt:        update.LastWebhookAt,
		LastError:            update.LastError,
		UpdatedAt:            update.UpdatedAt,
	}

	columns := []string{"updated_at"}
	if update.LastSuccessfulSyncAt != nil {
		columns = append(columns, "last_successful_sync_at")
	}
	if update.LastFullSyncAt != nil {
		columns = append(columns, "last_full_sync_at")
	}
	if update.LastWebhookAt != nil {
		columns = append(columns, "last_webhook_at")
	}
	if update.LastError != nil || update.ClearError {
		columns = append(columns, "last_error")
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "integration"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&state).Error
}

func (r *repo) GetState(ctx context.Context, db *gorm.DB, integration string) (*domain.SyncState, error) {
	var states []domain.SyncState
	if err := db.WithContext(ctx).Where("integration = ?", integration).Limit(1).Find(&states).Error; err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return &states[0], nil
}

func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id string, runID snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE clickup_webhook_events SET processed = ?, processed_at = ?, sync_run_id = ? WHERE id = ?`,
		true, processedAt, runID, id,
	).Error
}

func (r *repo) ListWebhookEvents(ctx context.Context, db *gorm.DB, integration string, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("integration = ?", integration).
		Order("received_at desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
