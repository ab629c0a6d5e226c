package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	crmsyncdomain "github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
)

func (s *Server) TriggerManualSync(c *gin.Context) {
	actor := resolveActor(c)
	s.triggerSync(c, crmsyncdomain.RunRequest{
		Source:      crmsyncdomain.SourceManual,
		TriggerMeta: map[string]any{"actor": actor},
	})
}

func (s *Server) TriggerScheduledSync(c *gin.Context) {
	s.triggerSync(c, crmsyncdomain.RunRequest{
		Source:      crmsyncdomain.SourceScheduled,
		TriggerMeta: map[string]any{"trigger": "cron"},
	})
}

func (s *Server) triggerSync(c *gin.Context, req crmsyncdomain.RunRequest) {
	result, err := s.runner.Run(c.Request.Context(), req)
	if err != nil {
		if result.RunID != "" {
			AbortWithError(c, &SyncFailedError{RunID: result.RunID, Err: err})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetSyncStatus(c *gin.Context) {
	resp, err := s.monitor.Status(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSyncRuns(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.monitor.ListRuns(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSyncRecords(c *gin.Context) {
	var query struct {
		EntityType string `form:"entity_type"`
		ListID     string `form:"list_id"`
		Archived   string `form:"archived"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	archived, err := parseOptionalBool(query.Archived)
	if err != nil {
		AbortWithError(c, newValidationError("archived", "invalid_archived", "invalid archived"))
		return
	}

	resp, err := s.monitor.ListRecords(c.Request.Context(), crmsyncdomain.ListRecordsRequest{
		RecordFilter: crmsyncdomain.RecordFilter{
			EntityType: strings.TrimSpace(query.EntityType),
			ListID:     strings.TrimSpace(query.ListID),
			Archived:   archived,
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.monitor.ListWebhookEvents(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
