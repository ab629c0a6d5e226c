package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SignatureHeaders are the header names a signature may arrive in.
var SignatureHeaders = []string{
	"X-Signature",
	"X-ClickUp-Signature",
	"X-Webhook-Signature",
	"ClickUp-Signature",
}

var auditedHeaders = []string{"Content-Type", "User-Agent", "X-Request-Id", "X-Forwarded-For"}

type WebhookParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Tracker *Tracker
	Runner  domain.Runner
	Metrics *metrics.Metrics `optional:"true"`
}

// WebhookGuard authenticates inbound ClickUp webhooks, logs them and
// triggers a sync pass.
type WebhookGuard struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	tracker *Tracker
	runner  domain.Runner
	metrics *metrics.Metrics
	secret  string
}

func NewWebhookGuard(p WebhookParams) *WebhookGuard {
	log := p.Log.Named("crmsync.webhook")
	secret := strings.TrimSpace(p.Cfg.ClickUp.WebhookSecret)
	if secret == "" {
		log.Warn("CLICKUP_WEBHOOK_SECRET not set, webhook signatures are not checked")
	}
	return &WebhookGuard{
		db:      p.DB,
		log:     log,
		clock:   p.Clock,
		repo:    p.Repo,
		tracker: p.Tracker,
		runner:  p.Runner,
		metrics: p.Metrics,
		secret:  secret,
	}
}

type webhookEnvelope struct {
	Event     string `json:"event"`
	WebhookID string `json:"webhook_id"`
	TaskID    string `json:"task_id"`
}

// HandleWebhook verifies, logs and acts on one delivery. A failed sync pass
// does not fail the delivery; it is reported through the result's warning.
func (g *WebhookGuard) HandleWebhook(ctx context.Context, req domain.WebhookRequest) (domain.WebhookResult, error) {
	if !g.Verify(req.Body, req.Headers) {
		g.metrics.IncWebhookEvent("rejected")
		g.log.Warn("webhook signature rejected")
		return domain.WebhookResult{}, domain.ErrInvalidSignature
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &fields); err != nil || fields == nil {
		g.metrics.IncWebhookEvent("invalid_payload")
		return domain.WebhookResult{}, domain.ErrInvalidPayload
	}
	var envelope webhookEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		g.log.Debug("webhook envelope fields not decoded", zap.Error(err))
	}

	receivedAt := g.clock.Now().UTC()
	event := domain.WebhookEvent{
		ID:          ulid.MustNew(ulid.Timestamp(receivedAt), ulid.DefaultEntropy()).String(),
		Integration: domain.IntegrationClickUp,
		EventName:   envelope.Event,
		WebhookID:   envelope.WebhookID,
		TaskID:      envelope.TaskID,
		Payload:     datatypes.JSON(append([]byte(nil), req.Body...)),
		Headers:     selectHeaders(req.Headers),
		ReceivedAt:  receivedAt,
	}
	if err := g.repo.InsertWebhookEvent(ctx, g.db, &event); err != nil {
		g.metrics.IncWebhookEvent("log_failed")
		return domain.WebhookResult{}, fmt.Errorf("log webhook event: %w", err)
	}
	if err := g.tracker.RecordWebhook(ctx, receivedAt); err != nil {
		g.log.Warn("failed to record webhook receipt", zap.Error(err))
	}

	log := g.log.With(zap.String("event_id", event.ID), zap.String("event", event.EventName))
	result := domain.WebhookResult{EventID: event.ID}

	run, err := g.runner.Run(ctx, domain.RunRequest{
		Source: domain.SourceWebhook,
		TriggerMeta: map[string]any{
			"event":            envelope.Event,
			"webhook_id":       envelope.WebhookID,
			"task_id":          envelope.TaskID,
			"webhook_event_id": event.ID,
		},
	})
	if err != nil {
		g.metrics.IncWebhookEvent("sync_failed")
		log.Warn("webhook accepted but sync failed", zap.Error(err))
		result.Warning = "sync failed: " + err.Error()
		if run.RunID != "" {
			result.Run = &run
		}
		return result, nil
	}

	result.Synced = true
	result.Run = &run
	if runID, parseErr := snowflake.ParseString(run.RunID); parseErr == nil {
		if err := g.repo.MarkWebhookProcessed(ctx, g.db, event.ID, runID, g.clock.Now().UTC()); err != nil {
			log.Warn("failed to mark webhook processed", zap.Error(err))
		}
	}
	g.metrics.IncWebhookEvent("processed")
	log.Info("webhook processed", zap.String("run_id", run.RunID))
	return result, nil
}

// Verify accepts any body when no secret is configured. Otherwise a header
// must carry either HMAC-SHA256(secret, body) or SHA-256(body || secret) as
// hex, optionally prefixed with "sha256=".
func (g *WebhookGuard) Verify(body []byte, headers http.Header) bool {
	if g.secret == "" {
		return true
	}
	return VerifySignature(g.secret, body, headers)
}

func VerifySignature(secret string, body []byte, headers http.Header) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	hmacDigest := hex.EncodeToString(mac.Sum(nil))

	plain := sha256.New()
	_, _ = plain.Write(body)
	_, _ = plain.Write([]byte(secret))
	plainDigest := hex.EncodeToString(plain.Sum(nil))

	for _, name := range SignatureHeaders {
		for _, value := range headers.Values(name) {
			signature := normalizeSignature(value)
			if signature == "" {
				continue
			}
			hmacMatch := hmac.Equal([]byte(signature), []byte(hmacDigest))
			plainMatch := hmac.Equal([]byte(signature), []byte(plainDigest))
			if hmacMatch || plainMatch {
				return true
			}
		}
	}
	return false
}

func normalizeSignature(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.TrimPrefix(value, "sha256=")
	return strings.TrimSpace(value)
}

func selectHeaders(headers http.Header) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for _, name := range auditedHeaders {
		if value := headers.Get(name); value != "" {
			out[strings.ToLower(name)] = value
		}
	}
	for _, name := range SignatureHeaders {
		if headers.Get(name) != "" {
			out["signature_header"] = name
			break
		}
	}
	return out
}
