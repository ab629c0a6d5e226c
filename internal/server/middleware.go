package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kantoor/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderActor     = "X-Actor"
	contextActorKey = "actor"
	anonymousActor  = "anonymous"
	maxActorBody    = 64 << 10
)

type actorBody struct {
	Actor string `json:"actor"`
}

// RateLimit admits one request per actor and scope per interval.
func (s *Server) RateLimit(scope string, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := resolveActor(c)
		c.Set(contextActorKey, actor)

		if s.limiter == nil || interval <= 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.Allow(ctx, scope+":"+actor, interval)
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			endpoint := normalizeRateLimitEndpoint(c)
			logger.FromContext(ctx).Warn("rate limit exceeded",
				zap.String("scope", scope),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.IncRateLimitDenied(endpoint)
			AbortWithError(c, &RateLimitedError{RetryAfterSeconds: result.RetryAfterSeconds()})
			return
		}
		c.Next()
	}
}

// CronAuthRequired checks Authorization: Bearer CRON_SECRET when a secret is
// configured.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.Sync.CronSecret)
		if secret == "" {
			c.Next()
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// resolveActor prefers the X-Actor header, then an "actor" field in a JSON
// body, then the client address.
func resolveActor(c *gin.Context) string {
	if actor, ok := c.Get(contextActorKey); ok {
		if value, _ := actor.(string); value != "" {
			return value
		}
	}
	if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
		return actor
	}
	if actor := readBodyActor(c); actor != "" {
		return actor
	}
	if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
		return ip
	}
	return anonymousActor
}

func readBodyActor(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	original := c.Request.Body
	body, err := io.ReadAll(io.LimitReader(original, maxActorBody+1))
	c.Request.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(body), original),
		Closer: original,
	}
	if err != nil || len(body) == 0 || len(body) > maxActorBody {
		return ""
	}
	var payload actorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Actor)
}

// readCloser replays the sniffed prefix ahead of the unread body.
type readCloser struct {
	io.Reader
	io.Closer
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
