package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/kantoor/internal/config"
	crmsyncdomain "github.com/smallbiznis/kantoor/internal/crmsync/domain"
	crmsyncservice "github.com/smallbiznis/kantoor/internal/crmsync/service"
	documentdomain "github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/internal/observability"
	obsmiddleware "github.com/smallbiznis/kantoor/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/kantoor/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kantoor/internal/observability/tracing"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the HTTP API. The document, numbering, crmsync and
// ratelimit modules must be supplied by the binary.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// WebhookHandler is the ingress guard behind POST /api/webhooks/clickup.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, req crmsyncdomain.WebhookRequest) (crmsyncdomain.WebhookResult, error)
}

// SyncMonitor backs the read-only sync endpoints.
type SyncMonitor interface {
	Status(ctx context.Context) (crmsyncdomain.StatusView, error)
	ListRuns(ctx context.Context, limit int) ([]crmsyncdomain.SyncRun, error)
	ListRecords(ctx context.Context, req crmsyncdomain.ListRecordsRequest) (crmsyncdomain.ListRecordsResponse, error)
	ListWebhookEvents(ctx context.Context, limit int) ([]crmsyncdomain.WebhookEvent, error)
}

// RequestLimiter throttles manual triggers and document creation.
type RequestLimiter interface {
	Allow(ctx context.Context, identity string, minInterval time.Duration) (ratelimit.Result, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.Metrics, db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				if err := sqlDB.PingContext(c.Request.Context()); err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
					return
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type engineParams struct {
	fx.In

	ObsCfg  observability.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
	DB      *gorm.DB
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.Metrics, p.DB)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	documentSvc documentdomain.Service
	runner      crmsyncdomain.Runner
	webhooks    WebhookHandler
	monitor     SyncMonitor
	limiter     RequestLimiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	DocumentSvc documentdomain.Service
	Runner      crmsyncdomain.Runner
	Webhooks    *crmsyncservice.WebhookGuard
	Monitor     *crmsyncservice.Monitor
	Limiter     *ratelimit.Limiter
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		documentSvc: p.DocumentSvc,
		runner:      p.Runner,
		webhooks:    p.Webhooks,
		monitor:     p.Monitor,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}
	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Documents --------
	api.GET("/documents/:kind", s.ListDocuments)
	api.POST("/documents/:kind", s.RateLimit("documents", s.cfg.RateLimit.DocumentInterval), s.CreateDocument)
	api.GET("/documents/:kind/:id", s.GetDocument)
	api.PUT("/documents/:kind/:id", s.UpdateDocument)
	api.POST("/documents/:kind/:id/status", s.UpdateDocumentStatus)
	api.DELETE("/documents/:kind/:id", s.DeleteDocument)
	api.POST("/documents/:kind/:id/convert", s.ConvertOfferte)

	// -------- ClickUp sync --------
	api.POST("/clickup/sync", s.RateLimit("clickup-sync", s.cfg.RateLimit.ManualSyncInterval), s.TriggerManualSync)
	api.GET("/clickup/status", s.GetSyncStatus)
	api.GET("/clickup/runs", s.ListSyncRuns)
	api.GET("/clickup/records", s.ListSyncRecords)
	api.GET("/clickup/webhook-events", s.ListWebhookEvents)

	// -------- Cron --------
	api.POST("/cron/clickup-sync", s.CronAuthRequired(), s.TriggerScheduledSync)
	api.GET("/cron/clickup-sync", s.CronAuthRequired(), s.TriggerScheduledSync)

	// -------- Webhooks --------
	api.POST("/webhooks/clickup", s.HandleClickUpWebhook)
}
