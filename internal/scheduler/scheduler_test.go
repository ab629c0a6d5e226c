package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	obsmetrics "github.com/smallbiznis/kantoor/internal/observability/metrics"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"go.uber.org/zap"
)

type recordingRunner struct {
	mu       sync.Mutex
	requests []domain.RunRequest
	result   domain.RunResult
	err      error
	block    bool
}

func (r *recordingRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return r.result, ctx.Err()
	}
	return r.result, r.err
}

func (r *recordingRunner) calls() []domain.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunRequest(nil), r.requests...)
}

func newTestScheduler(t *testing.T, runner domain.Runner, metrics *obsmetrics.Metrics, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)),
		Runner:  runner,
		Locker:  ratelimit.NewLocker(nil),
		Metrics: metrics,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func newTestMetrics(t *testing.T) (*obsmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := obsmetrics.New(registry, obsmetrics.Config{ServiceName: "kantoor", Environment: "test"})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return m, registry
}

func TestNewRequiresRunner(t *testing.T) {
	node, _ := snowflake.NewNode(1)
	_, err := New(Params{Log: zap.NewNop(), GenID: node, Clock: clock.SystemClock{}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.RunInterval != 15*time.Minute {
		t.Fatalf("expected 15m interval, got %s", cfg.RunInterval)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Fatalf("expected 10m timeout, got %s", cfg.JobTimeout)
	}

	short := Config{RunInterval: time.Minute}.withDefaults()
	if short.JobTimeout != time.Minute {
		t.Fatalf("expected timeout capped at interval, got %s", short.JobTimeout)
	}
	if short.LockTTL != time.Minute {
		t.Fatalf("expected lock ttl to follow timeout, got %s", short.LockTTL)
	}
}

func TestRunOnceTriggersScheduledSync(t *testing.T) {
	runner := &recordingRunner{result: domain.RunResult{Status: domain.RunStatusSuccess}}
	metrics, registry := newTestMetrics(t)
	s := newTestScheduler(t, runner, metrics, Config{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	calls := runner.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 run, got %d", len(calls))
	}
	if calls[0].Source != domain.SourceScheduled {
		t.Fatalf("expected scheduled source, got %s", calls[0].Source)
	}
	if calls[0].TriggerMeta["tick"] != "2024-01-15T09:00:00Z" {
		t.Fatalf("unexpected tick meta: %v", calls[0].TriggerMeta)
	}

	labels := map[string]string{"service": "kantoor", "env": "test", "job": JobClickUpSync}
	if got := getCounterValue(t, registry, "kantoor_scheduler_job_runs_total", labels); got != 1 {
		t.Fatalf("expected job run count 1, got %v", got)
	}
}

func TestRunOnceReturnsSyncError(t *testing.T) {
	runner := &recordingRunner{err: errors.New("clickup unavailable")}
	metrics, registry := newTestMetrics(t)
	s := newTestScheduler(t, runner, metrics, Config{})

	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	labels := map[string]string{
		"service": "kantoor",
		"env":     "test",
		"job":     JobClickUpSync,
		"reason":  obsmetrics.JobReasonUnknown,
	}
	if got := getCounterValue(t, registry, "kantoor_scheduler_job_errors_total", labels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceSkipsWhenNotConfigured(t *testing.T) {
	runner := &recordingRunner{err: domain.ErrNotConfigured}
	s := newTestScheduler(t, runner, nil, Config{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
}

func TestRunJobTimeoutDoesNotReturnError(t *testing.T) {
	runner := &recordingRunner{block: true}
	metrics, registry := newTestMetrics(t)
	s := newTestScheduler(t, runner, metrics, Config{JobTimeout: 5 * time.Millisecond})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "kantoor",
		"env":     "test",
		"job":     JobClickUpSync,
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "kantoor_scheduler_job_errors_total", labels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestClickUpSyncJobSkipsWhenLockHeld(t *testing.T) {
	runner := &recordingRunner{}
	locker := ratelimit.NewLocker(nil)
	s := newTestScheduler(t, runner, nil, Config{})
	s.locker = locker

	held, err := locker.Obtain(context.Background(), lockKeyClickUpSync, time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	defer held.Release(context.Background())

	if err := s.ClickUpSyncJob(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(runner.calls()) != 0 {
		t.Fatal("expected no sync while lock is held")
	}
}

func TestClickUpSyncJobReleasesLock(t *testing.T) {
	runner := &recordingRunner{}
	s := newTestScheduler(t, runner, nil, Config{})

	for i := 0; i < 2; i++ {
		if err := s.ClickUpSyncJob(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := len(runner.calls()); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	runner := &recordingRunner{}
	s := newTestScheduler(t, runner, nil, Config{RunInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(runner.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick never ran")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
