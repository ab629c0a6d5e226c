package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/kantoor/internal/clickup"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/internal/crmsync/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type syncFixture struct {
	db           *gorm.DB
	clock        *clock.FakeClock
	repo         domain.Repository
	tracker      *Tracker
	orchestrator *Orchestrator
	node         *snowflake.Node
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&domain.ExternalRecord{},
		&domain.SyncRun{},
		&domain.SyncState{},
		&domain.WebhookEvent{},
	))
	return db
}

func testConfig(lists map[string]string) config.Config {
	return config.Config{
		ClickUp: config.ClickUpConfig{
			APIToken:        "pk_test",
			PageSize:        100,
			MaxPages:        100,
			IncludeClosed:   true,
			IncludeArchived: false,
			Lists:           lists,
		},
	}
}

func newSyncFixture(t *testing.T, cfg config.Config, source domain.TaskSource) syncFixture {
	t.Helper()

	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	tracker := NewTracker(TrackerParams{DB: db, Log: log, Repo: repo})
	orchestrator := NewOrchestrator(OrchestratorParams{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Cfg:     cfg,
		Repo:    repo,
		Tracker: tracker,
		Source:  source,
	})
	return syncFixture{
		db:           db,
		clock:        fake,
		repo:         repo,
		tracker:      tracker,
		orchestrator: orchestrator,
		node:         node,
	}
}

// fakeSource serves a mutable task set per list as a single page.
type fakeSource struct {
	mu    sync.Mutex
	lists map[string][]string
	err   error
	calls int
}

func newFakeSource(lists map[string][]string) *fakeSource {
	return &fakeSource{lists: lists}
}

func (f *fakeSource) set(listID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[listID] = ids
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) ListTasksPage(ctx context.Context, listID string, query clickup.PageQuery) (clickup.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return clickup.Page{}, f.err
	}
	if query.Archived || query.Page > 0 {
		return clickup.Page{}, nil
	}
	var tasks []json.RawMessage
	for _, id := range f.lists[listID] {
		tasks = append(tasks, json.RawMessage(fmt.Sprintf(
			`{"id":%q,"name":"Task %s","status":{"status":"open"},"date_created":"1700000000000","date_updated":"1700000000000"}`,
			id, id,
		)))
	}
	last := true
	return clickup.Page{Tasks: tasks, LastPage: &last}, nil
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func taskIDs(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var ids []string
	require.NoError(t, db.Model(&domain.ExternalRecord{}).Order("clickup_task_id").Pluck("clickup_task_id", &ids).Error)
	return ids
}

func mustParseID(t *testing.T, raw string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}
