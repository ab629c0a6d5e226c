package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	crmsyncdomain "github.com/smallbiznis/kantoor/internal/crmsync/domain"
)

const maxWebhookBody = 1 << 20

// HandleClickUpWebhook reads the raw body so the signature is checked over
// the exact bytes the sender signed.
func (s *Server) HandleClickUpWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(body) > maxWebhookBody {
		AbortWithError(c, ErrPayloadTooLarge)
		return
	}

	result, err := s.webhooks.HandleWebhook(c.Request.Context(), crmsyncdomain.WebhookRequest{
		Body:    body,
		Headers: c.Request.Header,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
