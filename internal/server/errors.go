package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	crmsyncdomain "github.com/smallbiznis/kantoor/internal/crmsync/domain"
	documentdomain "github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/internal/numbering"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// RateLimitedError carries the wait a client should honour.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string { return ratelimit.ErrRateLimited.Error() }

func (e *RateLimitedError) Unwrap() error { return ratelimit.ErrRateLimited }

// SyncFailedError wraps a failed sync pass so the response can name the run.
type SyncFailedError struct {
	RunID string
	Err   error
}

func (e *SyncFailedError) Error() string { return "sync failed: " + e.Err.Error() }

func (e *SyncFailedError) Unwrap() error { return e.Err }

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	RunID   string            `json:"run_id,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *RateLimitedError
		if errors.As(lastErr.Err, &limited) {
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var syncErr *SyncFailedError
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, crmsyncdomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_payload",
			Message: "request body is not valid json",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, crmsyncdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, documentdomain.ErrInvalidTransition),
		errors.Is(err, documentdomain.ErrNotAccepted),
		errors.Is(err, documentdomain.ErrAlreadyConverted):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, numbering.ErrNumberAllocationExhausted):
		return http.StatusConflict, errorPayload{
			Type:    "number_allocation_exhausted",
			Message: "could not allocate a document number, retry the request",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, crmsyncdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "not_configured",
			Message: "clickup sync is not configured",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &syncErr):
		return http.StatusBadGateway, errorPayload{
			Type:    "sync_failed",
			Message: syncErr.Err.Error(),
			RunID:   syncErr.RunID,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, crmsyncdomain.ErrInvalidSource),
		errors.Is(err, crmsyncdomain.ErrInvalidEntity),
		errors.Is(err, numbering.ErrInvalidPrefix),
		documentdomain.IsValidationError(err):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, documentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, target := range []error{
		ErrInvalidRequest,
		pagination.ErrInvalidPageToken,
		crmsyncdomain.ErrInvalidSource,
		crmsyncdomain.ErrInvalidEntity,
		numbering.ErrInvalidPrefix,
		documentdomain.ErrInvalidKind,
		documentdomain.ErrInvalidCompany,
		documentdomain.ErrInvalidClient,
		documentdomain.ErrInvalidItems,
		documentdomain.ErrInvalidQuantity,
		documentdomain.ErrInvalidUnitPrice,
		documentdomain.ErrInvalidBTW,
		documentdomain.ErrInvalidStatus,
		documentdomain.ErrInvalidID,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
