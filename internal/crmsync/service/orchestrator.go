package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/clickup"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/internal/crmsync/normalizer"
	"github.com/smallbiznis/kantoor/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 100
)

type OrchestratorParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Tracker *Tracker
	Source  domain.TaskSource `optional:"true"`
	Metrics *metrics.Metrics  `optional:"true"`
}

// ListTarget is one configured upstream list.
type ListTarget struct {
	EntityType string
	ListID     string
}

// Orchestrator runs reconciliation passes over the configured lists.
type Orchestrator struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	tracker *Tracker
	source  domain.TaskSource
	metrics *metrics.Metrics

	targets         []ListTarget
	pageSize        int
	maxPages        int
	includeClosed   bool
	includeArchived bool
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	cu := p.Cfg.ClickUp
	pageSize := cu.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := cu.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var targets []ListTarget
	for _, entityType := range config.ClickUpEntityTypes {
		if listID := cu.Lists[entityType]; listID != "" {
			targets = append(targets, ListTarget{EntityType: entityType, ListID: listID})
		}
	}

	return &Orchestrator{
		db:              p.DB,
		log:             p.Log.Named("crmsync.orchestrator"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		tracker:         p.Tracker,
		source:          p.Source,
		metrics:         p.Metrics,
		targets:         targets,
		pageSize:        pageSize,
		maxPages:        maxPages,
		includeClosed:   cu.IncludeClosed,
		includeArchived: cu.IncludeArchived,
	}
}

// Configured reports whether a task source and at least one list exist.
func (o *Orchestrator) Configured() bool {
	return o.source != nil && len(o.targets) > 0
}

// Run performs one pass. Every call that gets past run creation ends with
// exactly one terminal SyncRun row, whether it returns an error or not.
func (o *Orchestrator) Run(ctx context.Context, req domain.RunRequest) (result domain.RunResult, err error) {
	if !req.Source.Valid() {
		return domain.RunResult{}, domain.ErrInvalidSource
	}
	if !o.Configured() {
		return domain.RunResult{}, domain.ErrNotConfigured
	}

	ctx, span := otel.Tracer("kantoor/crmsync").Start(ctx, "crmsync.run")
	span.SetAttributes(attribute.String("sync.source", string(req.Source)))
	defer span.End()

	startedAt := o.clock.Now().UTC()
	run := domain.SyncRun{
		ID:          o.genID.Generate(),
		Integration: domain.IntegrationClickUp,
		Source:      req.Source,
		Status:      domain.RunStatusStarted,
		Counts:      datatypes.NewJSONType(domain.RunCounts{}),
		TriggerMeta: datatypes.JSONMap(req.TriggerMeta),
		StartedAt:   startedAt,
	}
	if run.TriggerMeta == nil {
		run.TriggerMeta = datatypes.JSONMap{}
	}
	if err := o.repo.InsertRun(ctx, o.db, &run); err != nil {
		span.SetStatus(codes.Error, "create run")
		return domain.RunResult{}, fmt.Errorf("create sync run: %w", err)
	}

	log := o.log.With(
		zap.String("run_id", run.ID.String()),
		zap.String("source", string(req.Source)),
	)
	log.Info("sync run started", zap.Int("lists", len(o.targets)))

	var counts domain.RunCounts
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sync run panicked: %v", recovered)
		}
		// Finalization must survive a cancelled caller so the run never
		// stays in started.
		result, err = o.finalize(context.WithoutCancel(ctx), log, run, counts, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync run failed")
		}
	}()

	for _, target := range o.targets {
		fetched, upserted, syncErr := o.syncList(ctx, target)
		counts.TasksFetched += fetched
		counts.TasksUpserted += upserted
		if syncErr != nil {
			return domain.RunResult{}, syncErr
		}
		counts.Lists++
	}

	if err := o.tracker.RecordFullSync(ctx, o.clock.Now()); err != nil {
		return domain.RunResult{}, fmt.Errorf("record full sync: %w", err)
	}
	return domain.RunResult{}, nil
}

func (o *Orchestrator) finalize(ctx context.Context, log *zap.Logger, run domain.SyncRun, counts domain.RunCounts, runErr error) (domain.RunResult, error) {
	endedAt := o.clock.Now().UTC()
	run.EndedAt = &endedAt
	run.Status = domain.RunStatusSuccess
	if runErr != nil {
		run.Status = domain.RunStatusError
		counts.Errors++
		message := truncate(runErr.Error(), maxErrorLength)
		run.ErrorMessage = &message
	}
	run.Counts = datatypes.NewJSONType(counts)

	result := domain.RunResult{
		RunID:     run.ID.String(),
		Status:    run.Status,
		Counts:    counts,
		StartedAt: run.StartedAt,
		EndedAt:   endedAt,
	}
	o.metrics.ObserveSyncRun(string(run.Source), string(run.Status), endedAt.Sub(run.StartedAt))

	if err := o.repo.FinishRun(ctx, o.db, &run); err != nil {
		log.Error("failed to finalize sync run", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finalize sync run: %w", err)
		}
	}

	if runErr != nil {
		if err := o.tracker.RecordFailure(ctx, runErr.Error(), endedAt); err != nil {
			log.Error("failed to record sync failure", zap.Error(err))
		}
		log.Error("sync run failed",
			zap.Int("lists", counts.Lists),
			zap.Int("tasks_fetched", counts.TasksFetched),
			zap.Int("tasks_upserted", counts.TasksUpserted),
			zap.Error(runErr),
		)
		return result, runErr
	}

	if err := o.tracker.RecordSuccess(ctx, endedAt); err != nil {
		log.Error("failed to record sync success", zap.Error(err))
	}
	log.Info("sync run finished",
		zap.Int("lists", counts.Lists),
		zap.Int("tasks_fetched", counts.TasksFetched),
		zap.Int("tasks_upserted", counts.TasksUpserted),
		zap.Duration("duration", endedAt.Sub(run.StartedAt)),
	)
	return result, nil
}

// syncList fetches every page of one list, normalizes the tasks and commits
// them as one batch.
func (o *Orchestrator) syncList(ctx context.Context, target ListTarget) (int, int, error) {
	tasks, err := o.fetchAll(ctx, target.ListID, false)
	if err != nil {
		return 0, 0, err
	}
	if o.includeArchived {
		archived, err := o.fetchAll(ctx, target.ListID, true)
		if err != nil {
			return len(tasks), 0, err
		}
		tasks = append(tasks, archived...)
	}

	now := o.clock.Now()
	records := make([]domain.ExternalRecord, 0, len(tasks))
	index := make(map[string]int, len(tasks))
	for _, raw := range tasks {
		record := normalizer.Normalize(target.EntityType, target.ListID, raw, now)
		if record.ClickUpTaskID == "" {
			o.log.Warn("skipping task without id", zap.String("list_id", target.ListID))
			continue
		}
		if i, seen := index[record.ClickUpTaskID]; seen {
			record.ID = records[i].ID
			records[i] = record
			continue
		}
		record.ID = o.genID.Generate()
		index[record.ClickUpTaskID] = len(records)
		records = append(records, record)
	}

	var upserted int
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := o.repo.UpsertRecords(ctx, tx, records)
		upserted = n
		return err
	})
	if err != nil {
		return len(tasks), 0, fmt.Errorf("upsert %s records from list %s: %w", target.EntityType, target.ListID, err)
	}

	o.metrics.AddSyncTasks(target.EntityType, len(tasks), upserted)
	o.log.Debug("list synced",
		zap.String("entity_type", target.EntityType),
		zap.String("list_id", target.ListID),
		zap.Int("tasks_fetched", len(tasks)),
		zap.Int("tasks_upserted", upserted),
	)
	return len(tasks), upserted, nil
}

// fetchAll pages through a list until an empty page, an explicit last page
// flag or a short page, whichever comes first, and never past maxPages.
func (o *Orchestrator) fetchAll(ctx context.Context, listID string, archived bool) ([]json.RawMessage, error) {
	var tasks []json.RawMessage
	for page := 0; page < o.maxPages; page++ {
		result, err := o.source.ListTasksPage(ctx, listID, clickup.PageQuery{
			Page:          page,
			Archived:      archived,
			IncludeClosed: o.includeClosed,
		})
		if err != nil {
			return tasks, fmt.Errorf("fetch list %s page %d: %w", listID, page, err)
		}
		tasks = append(tasks, result.Tasks...)

		if len(result.Tasks) == 0 || (result.LastPage != nil && *result.LastPage) || len(result.Tasks) < o.pageSize {
			return tasks, nil
		}
		if page == o.maxPages-1 {
			o.log.Warn("page cap reached, list truncated",
				zap.String("list_id", listID),
				zap.Int("max_pages", o.maxPages),
			)
		}
	}
	return tasks, nil
}
