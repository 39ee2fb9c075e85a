package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/opsflow/internal/common"
)

// statusFor maps an error onto the HTTP status callers see.
func statusFor(err error) int {
	var verr *common.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrUnknownStage):
		return http.StatusNotFound
	case errors.Is(err, common.ErrRateLimit), errors.Is(err, common.ErrAIRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, common.ErrAIQuotaExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, common.ErrAIUpstream):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrMissingConfig):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) gin.H {
	body := gin.H{"success": false, "error": err.Error()}
	var verr *common.ValidationError
	if errors.As(err, &verr) {
		body["error"] = "validation failed"
		body["details"] = verr.Details
	}
	return body
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		common.LogError(err, "Request failed", common.Fields{"path": c.FullPath(), "status": status})
	}
	c.JSON(status, errorBody(err))
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), errorBody(err))
}

func badBody(err error) error {
	return &common.ValidationError{Details: map[string]string{"body": err.Error()}}
}
