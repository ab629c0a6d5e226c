package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	crmsyncdomain "github.com/smallbiznis/kantoor/internal/crmsync/domain"
	documentdomain "github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/internal/numbering"
	"github.com/smallbiznis/kantoor/internal/observability"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeDocumentService struct {
	createErr error
	getErr    error
	lastKind  documentdomain.Kind
	created   []documentdomain.CreateDocumentRequest
}

func (f *fakeDocumentService) Create(ctx context.Context, req documentdomain.CreateDocumentRequest) (documentdomain.Document, error) {
	_ = ctx
	f.created = append(f.created, req)
	if f.createErr != nil {
		return documentdomain.Document{}, f.createErr
	}
	return documentdomain.Document{Kind: req.Kind, Number: fmt.Sprintf("OFF-240115-%02d", len(f.created))}, nil
}

func (f *fakeDocumentService) Get(ctx context.Context, kind documentdomain.Kind, idOrSlug string) (documentdomain.Document, error) {
	_ = ctx
	_ = idOrSlug
	f.lastKind = kind
	if f.getErr != nil {
		return documentdomain.Document{}, f.getErr
	}
	return documentdomain.Document{Kind: kind}, nil
}

func (f *fakeDocumentService) List(ctx context.Context, req documentdomain.ListDocumentRequest) (documentdomain.ListDocumentResponse, error) {
	_ = ctx
	_ = req
	return documentdomain.ListDocumentResponse{}, nil
}

func (f *fakeDocumentService) Update(ctx context.Context, req documentdomain.UpdateDocumentRequest) (documentdomain.Document, error) {
	_ = ctx
	return documentdomain.Document{Kind: req.Kind}, nil
}

func (f *fakeDocumentService) UpdateStatus(ctx context.Context, req documentdomain.UpdateStatusRequest) (documentdomain.Document, error) {
	_ = ctx
	if !documentdomain.CanTransition(req.Kind, documentdomain.StatusDraft, req.Status) {
		return documentdomain.Document{}, documentdomain.ErrInvalidTransition
	}
	return documentdomain.Document{Kind: req.Kind, Status: req.Status}, nil
}

func (f *fakeDocumentService) Delete(ctx context.Context, kind documentdomain.Kind, id string) error {
	_ = ctx
	_ = kind
	_ = id
	return nil
}

func (f *fakeDocumentService) ConvertToFactuur(ctx context.Context, offerteID string) (documentdomain.Document, error) {
	_ = ctx
	_ = offerteID
	return documentdomain.Document{}, documentdomain.ErrNotAccepted
}

type fakeRunner struct {
	result   crmsyncdomain.RunResult
	err      error
	requests []crmsyncdomain.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req crmsyncdomain.RunRequest) (crmsyncdomain.RunResult, error) {
	_ = ctx
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeWebhooks struct {
	result crmsyncdomain.WebhookResult
	err    error
	body   []byte
}

func (f *fakeWebhooks) HandleWebhook(ctx context.Context, req crmsyncdomain.WebhookRequest) (crmsyncdomain.WebhookResult, error) {
	_ = ctx
	f.body = req.Body
	return f.result, f.err
}

type fakeMonitor struct{}

func (fakeMonitor) Status(ctx context.Context) (crmsyncdomain.StatusView, error) {
	_ = ctx
	return crmsyncdomain.StatusView{Configured: true, Health: crmsyncdomain.HealthOK}, nil
}

func (fakeMonitor) ListRuns(ctx context.Context, limit int) ([]crmsyncdomain.SyncRun, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

func (fakeMonitor) ListRecords(ctx context.Context, req crmsyncdomain.ListRecordsRequest) (crmsyncdomain.ListRecordsResponse, error) {
	_ = ctx
	if req.EntityType == "unicorn" {
		return crmsyncdomain.ListRecordsResponse{}, crmsyncdomain.ErrInvalidEntity
	}
	return crmsyncdomain.ListRecordsResponse{}, nil
}

func (fakeMonitor) ListWebhookEvents(ctx context.Context, limit int) ([]crmsyncdomain.WebhookEvent, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

type testServer struct {
	router   *gin.Engine
	docs     *fakeDocumentService
	runner   *fakeRunner
	webhooks *fakeWebhooks
	clock    *clock.FakeClock
}

func newTestServer(t *testing.T, cfg config.Config) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := clock.NewFakeClock(time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC))
	ts := testServer{
		router:   NewEngine(observability.Config{}, nil, nil),
		docs:     &fakeDocumentService{},
		runner:   &fakeRunner{},
		webhooks: &fakeWebhooks{},
		clock:    fake,
	}
	srv := &Server{
		engine:      ts.router,
		cfg:         cfg,
		log:         zap.NewNop(),
		documentSvc: ts.docs,
		runner:      ts.runner,
		webhooks:    ts.webhooks,
		monitor:     fakeMonitor{},
		limiter:     ratelimit.NewLimiter(ratelimit.Params{Clock: fake, Log: zap.NewNop()}),
	}
	srv.registerAPIRoutes()
	return ts
}

func (ts testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestCreateDocument(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(http.MethodPost, "/api/documents/offerte",
		`{"company_id":"c1","client_id":"k1","btw_percentage":"21","items":[{"description":"Work","quantity":"1","unit_price":"100"}]}`,
		map[string]string{HeaderActor: "alice"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(ts.docs.created) != 1 || ts.docs.created[0].Kind != documentdomain.KindOfferte {
		t.Fatalf("expected offerte create, got %+v", ts.docs.created)
	}
	if ts.docs.created[0].Items[0].UnitPrice.String() != "100" {
		t.Fatalf("unexpected unit price %s", ts.docs.created[0].Items[0].UnitPrice)
	}
}

func TestCreateDocumentLargeBodyWithoutActorHeader(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	items := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		items = append(items, fmt.Sprintf(`{"section_title":"Fase %d","description":"Werkzaamheden regel %d met een uitgebreide omschrijving","quantity":"1","unit_price":"100"}`, i, i))
	}
	body := `{"actor":"dave","company_id":"c1","client_id":"k1","btw_percentage":"21","items":[` + strings.Join(items, ",") + `]}`
	if len(body) <= maxActorBody {
		t.Fatalf("expected body over %d bytes, got %d", maxActorBody, len(body))
	}

	resp := ts.do(http.MethodPost, "/api/documents/offerte", body, nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(ts.docs.created) != 1 || len(ts.docs.created[0].Items) != 600 {
		t.Fatalf("expected all 600 items to reach the service, got %+v", ts.docs.created)
	}
}

func TestReadBodyActorKeepsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"actor":" erin ","x":1}`))

	if got := readBodyActor(c); got != "erin" {
		t.Fatalf("expected actor erin, got %q", got)
	}
	rest, err := io.ReadAll(c.Request.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(rest) != `{"actor":" erin ","x":1}` {
		t.Fatalf("body not replayed: %q", rest)
	}
}

func TestCreateDocumentRateLimited(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{DocumentInterval: 2 * time.Second}}
	ts := newTestServer(t, cfg)
	headers := map[string]string{HeaderActor: "alice"}

	if resp := ts.do(http.MethodPost, "/api/documents/factuur", `{}`, headers); resp.Code != http.StatusCreated {
		t.Fatalf("expected first create to pass, got %d", resp.Code)
	}
	resp := ts.do(http.MethodPost, "/api/documents/factuur", `{}`, headers)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if payload := decodeError(t, resp); payload.Type != "rate_limited" {
		t.Fatalf("expected rate_limited, got %s", payload.Type)
	}

	if resp := ts.do(http.MethodPost, "/api/documents/factuur", `{}`, map[string]string{HeaderActor: "bob"}); resp.Code != http.StatusCreated {
		t.Fatalf("expected other actor to pass, got %d", resp.Code)
	}

	ts.clock.Advance(2 * time.Second)
	if resp := ts.do(http.MethodPost, "/api/documents/factuur", `{}`, headers); resp.Code != http.StatusCreated {
		t.Fatalf("expected create after window, got %d", resp.Code)
	}
}

func TestDocumentErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		createErr  error
		wantStatus int
		wantType   string
	}{
		{"validation", documentdomain.ErrInvalidQuantity, http.StatusBadRequest, "validation_error"},
		{"exhausted", fmt.Errorf("%w after 8 attempts", numbering.ErrNumberAllocationExhausted), http.StatusConflict, "number_allocation_exhausted"},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, config.Config{})
			ts.docs.createErr = tc.createErr

			resp := ts.do(http.MethodPost, "/api/documents/offerte", `{}`, nil)
			if resp.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, resp.Code)
			}
			if payload := decodeError(t, resp); payload.Type != tc.wantType {
				t.Fatalf("expected type %s, got %s", tc.wantType, payload.Type)
			}
		})
	}
}

func TestDocumentValidationErrorCode(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.docs.createErr = documentdomain.ErrInvalidBTW

	resp := ts.do(http.MethodPost, "/api/documents/factuur", `{}`, nil)
	payload := decodeError(t, resp)
	if len(payload.Errors) != 1 || payload.Errors[0].Code != "invalid_btw_percentage" || payload.Errors[0].Field != "btw_percentage" {
		t.Fatalf("unexpected validation errors %+v", payload.Errors)
	}
}

func TestDocumentRoutes(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	if resp := ts.do(http.MethodGet, "/api/documents/memo/1", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", resp.Code)
	}

	ts.docs.getErr = documentdomain.ErrNotFound
	if resp := ts.do(http.MethodGet, "/api/documents/factuur/42", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if ts.docs.lastKind != documentdomain.KindFactuur {
		t.Fatalf("expected factuur lookup, got %s", ts.docs.lastKind)
	}

	if resp := ts.do(http.MethodPost, "/api/documents/offerte/1/status", `{"status":"paid"}`, nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for bad transition, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodPost, "/api/documents/offerte/1/status", `{"status":"sent"}`, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for draft->sent, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodPost, "/api/documents/offerte/1/convert", "", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unaccepted offerte, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodPost, "/api/documents/factuur/1/convert", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 converting a factuur, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodDelete, "/api/documents/offerte/1", "", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestManualSync(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{ManualSyncInterval: 30 * time.Second}}
	ts := newTestServer(t, cfg)
	ts.runner.result = crmsyncdomain.RunResult{RunID: "1", Status: crmsyncdomain.RunStatusSuccess}

	resp := ts.do(http.MethodPost, "/api/clickup/sync", `{"actor":"carol"}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(ts.runner.requests) != 1 {
		t.Fatalf("expected one run, got %d", len(ts.runner.requests))
	}
	req := ts.runner.requests[0]
	if req.Source != crmsyncdomain.SourceManual || req.TriggerMeta["actor"] != "carol" {
		t.Fatalf("unexpected run request %+v", req)
	}

	resp = ts.do(http.MethodPost, "/api/clickup/sync", `{"actor":"carol"}`, nil)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After 30, got %q", got)
	}
}

func TestManualSyncFailures(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.runner.err = crmsyncdomain.ErrNotConfigured
	resp := ts.do(http.MethodPost, "/api/clickup/sync", "", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}

	ts.runner.err = errors.New("clickup api error 500")
	ts.runner.result = crmsyncdomain.RunResult{RunID: "77", Status: crmsyncdomain.RunStatusError}
	resp = ts.do(http.MethodPost, "/api/clickup/sync", "", nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.RunID != "77" || payload.Type != "sync_failed" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCronSyncAuth(t *testing.T) {
	ts := newTestServer(t, config.Config{Sync: config.SyncConfig{CronSecret: "s3cret"}})

	if resp := ts.do(http.MethodPost, "/api/cron/clickup-sync", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodPost, "/api/cron/clickup-sync", "", map[string]string{"Authorization": "Bearer nope"}); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.Code)
	}
	resp := ts.do(http.MethodPost, "/api/cron/clickup-sync", "", map[string]string{"Authorization": "Bearer s3cret"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ts.runner.requests[0].Source != crmsyncdomain.SourceScheduled {
		t.Fatalf("expected scheduled source, got %s", ts.runner.requests[0].Source)
	}
}

func TestClickUpWebhook(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		result     crmsyncdomain.WebhookResult
		wantStatus int
	}{
		{"bad signature", crmsyncdomain.ErrInvalidSignature, crmsyncdomain.WebhookResult{}, http.StatusUnauthorized},
		{"invalid json", crmsyncdomain.ErrInvalidPayload, crmsyncdomain.WebhookResult{}, http.StatusBadRequest},
		{"audit insert failed", errors.New("log webhook event: disk full"), crmsyncdomain.WebhookResult{}, http.StatusInternalServerError},
		{"sync failed", nil, crmsyncdomain.WebhookResult{EventID: "e1", Warning: "sync failed: boom"}, http.StatusOK},
		{"processed", nil, crmsyncdomain.WebhookResult{EventID: "e1", Synced: true}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, config.Config{})
			ts.webhooks.err = tc.err
			ts.webhooks.result = tc.result

			body := `{"event":"taskUpdated","task_id":"t1"}`
			resp := ts.do(http.MethodPost, "/api/webhooks/clickup", body, nil)
			if resp.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, resp.Code)
			}
			if string(ts.webhooks.body) != body {
				t.Fatalf("expected raw body to reach the guard, got %q", ts.webhooks.body)
			}
		})
	}
}

func TestClickUpWebhookBodyLimit(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.webhooks.result = crmsyncdomain.WebhookResult{EventID: "e1", Synced: true}

	pad := maxWebhookBody - len(`{"event":"taskUpdated","pad":""}`)
	atLimit := `{"event":"taskUpdated","pad":"` + strings.Repeat("x", pad) + `"}`
	if resp := ts.do(http.MethodPost, "/api/webhooks/clickup", atLimit, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected body at the limit to pass, got %d", resp.Code)
	}
	if len(ts.webhooks.body) != maxWebhookBody {
		t.Fatalf("expected %d bytes at the guard, got %d", maxWebhookBody, len(ts.webhooks.body))
	}

	ts.webhooks.body = nil
	overLimit := `{"event":"taskUpdated","pad":"` + strings.Repeat("x", pad+1) + `"}`
	resp := ts.do(http.MethodPost, "/api/webhooks/clickup", overLimit, nil)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "payload_too_large" {
		t.Fatalf("expected payload_too_large, got %s", payload.Type)
	}
	if ts.webhooks.body != nil {
		t.Fatalf("expected oversized body to stop before the guard")
	}
}

func TestSyncRecordsValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	if resp := ts.do(http.MethodGet, "/api/clickup/records?entity_type=unicorn", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodGet, "/api/clickup/records?archived=maybe", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodGet, "/api/clickup/status", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := ts.do(http.MethodGet, "/api/clickup/runs?limit=x", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
