package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const IntegrationClickUp = "clickup"

type Source string

const (
	SourceManual    Source = "manual"
	SourceScheduled Source = "scheduled"
	SourceWebhook   Source = "webhook"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceScheduled, SourceWebhook:
		return true
	default:
		return false
	}
}

type RunStatus string

const (
	RunStatusStarted RunStatus = "started"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ExternalRecord mirrors one ClickUp task. clickup_task_id is the upsert key.
type ExternalRecord struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	ClickUpTaskID string         `gorm:"column:clickup_task_id;type:text;not null;uniqueIndex" json:"clickup_task_id"`
	EntityType    string         `gorm:"type:text;not null;index" json:"entity_type"`
	ClickUpListID string         `gorm:"column:clickup_list_id;type:text;not null" json:"clickup_list_id"`
	Name          string         `gorm:"type:text" json:"name"`
	Status        *string        `gorm:"type:text" json:"status"`
	URL           *string        `gorm:"column:url;type:text" json:"url"`
	Archived      bool           `gorm:"not null;default:false" json:"archived"`
	Active        bool           `gorm:"not null;default:true" json:"active"`
	Assignees     datatypes.JSON `gorm:"type:jsonb" json:"assignees"`
	Tags          datatypes.JSON `gorm:"type:jsonb" json:"tags"`
	CustomFields  datatypes.JSON `gorm:"type:jsonb" json:"custom_fields"`
	DueDate       *time.Time     `json:"due_date"`
	DateCreated   *time.Time     `json:"date_created"`
	DateUpdated   *time.Time     `json:"date_updated"`
	Raw           datatypes.JSON `gorm:"type:jsonb" json:"raw"`
	SyncedAt      time.Time      `gorm:"not null" json:"synced_at"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (ExternalRecord) TableName() string { return "clickup_records" }

// RunCounts are the per-pass tallies stored on a SyncRun.
type RunCounts struct {
	Lists         int `json:"lists"`
	TasksFetched  int `json:"tasksFetched"`
	TasksUpserted int `json:"tasksUpserted"`
	Errors        int `json:"errors"`
}

// SyncRun is the audit row of one reconciliation pass. It is never changed
// after EndedAt is set.
type SyncRun struct {
	ID           snowflake.ID                  `gorm:"primaryKey" json:"id"`
	Integration  string                        `gorm:"type:text;not null;index" json:"integration"`
	Source       Source                        `gorm:"type:text;not null" json:"source"`
	Status       RunStatus                     `gorm:"type:text;not null" json:"status"`
	Counts       datatypes.JSONType[RunCounts] `gorm:"type:jsonb;not null" json:"counts"`
	TriggerMeta  datatypes.JSONMap             `gorm:"type:jsonb" json:"trigger_meta"`
	StartedAt    time.Time                     `gorm:"not null;index" json:"started_at"`
	EndedAt      *time.Time                    `json:"ended_at"`
	ErrorMessage *string                       `gorm:"type:text" json:"error_message"`
}

func (SyncRun) TableName() string { return "clickup_sync_runs" }

// SyncState is the single last-write-wins row per integration.
type SyncState struct {
	Integration          string     `gorm:"primaryKey;type:text" json:"integration"`
	LastSuccessfulSyncAt *time.Time `json:"last_successful_sync_at"`
	LastFullSyncAt       *time.Time `json:"last_full_sync_at"`
	LastWebhookAt        *time.Time `json:"last_webhook_at"`
	LastError            *string    `gorm:"type:text" json:"last_error"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updated_at"`
}

func (SyncState) TableName() string { return "clickup_sync_state" }

// WebhookEvent is the append-only log of authenticated deliveries.
type WebhookEvent struct {
	ID          string            `gorm:"primaryKey;type:text" json:"id"`
	Integration string            `gorm:"type:text;not null" json:"integration"`
	EventName   string            `gorm:"type:text" json:"event"`
	WebhookID   string            `gorm:"type:text" json:"webhook_id"`
	TaskID      string            `gorm:"type:text" json:"task_id"`
	Payload     datatypes.JSON    `gorm:"type:jsonb;not null" json:"payload"`
	Headers     datatypes.JSONMap `gorm:"type:jsonb" json:"headers"`
	ReceivedAt  time.Time         `gorm:"not null;index" json:"received_at"`
	Processed   bool              `gorm:"not null;default:false" json:"processed"`
	ProcessedAt *time.Time        `json:"processed_at"`
	SyncRunID   *snowflake.ID     `json:"sync_run_id"`
}

func (WebhookEvent) TableName() string { return "clickup_webhook_events" }
