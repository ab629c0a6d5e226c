package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/smallbiznis/kantoor/internal/clickup"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
)

// TaskSource reads pages of raw tasks from the upstream system.
//
//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks
type TaskSource interface {
	ListTasksPage(ctx context.Context, listID string, query clickup.PageQuery) (clickup.Page, error)
}

// Runner executes one sync pass.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

type RunRequest struct {
	Source      Source
	TriggerMeta map[string]any
}

type RunResult struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Counts    RunCounts `json:"counts"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type WebhookRequest struct {
	Body    []byte
	Headers http.Header
}

type WebhookResult struct {
	EventID string     `json:"event_id"`
	Synced  bool       `json:"synced"`
	Run     *RunResult `json:"run,omitempty"`
	Warning string     `json:"warning,omitempty"`
}

type Health string

const (
	HealthNeverSynced Health = "never_synced"
	HealthOK          Health = "ok"
	HealthFailing     Health = "failing"
)

type StatusView struct {
	Configured   bool             `json:"configured"`
	Health       Health           `json:"health"`
	State        *SyncState       `json:"state"`
	LatestRuns   []SyncRun        `json:"latest_runs"`
	RecordCounts map[string]int64 `json:"record_counts"`
}

type ListRecordsRequest struct {
	RecordFilter
	pagination.Pagination
}

type ListRecordsResponse struct {
	pagination.PageInfo
	Records []ExternalRecord `json:"records"`
}

var (
	ErrNotConfigured    = errors.New("clickup_sync_not_configured")
	ErrInvalidSource    = errors.New("invalid_sync_source")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEntity    = errors.New("invalid_entity_type")
)
