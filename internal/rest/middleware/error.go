package middleware

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/types"
	"github.com/gin-gonic/gin"
)

const safeDetailsPrefix = "__json__:"

// ErrorResponse is the uniform error envelope returned by every endpoint
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// ErrorHandler translates errors attached to the gin context into the
// uniform envelope. The hint is the user-facing message; the raw error text
// is only exposed outside production.
func ErrorHandler(log *logger.Logger, mode types.RunMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)

		if status >= 500 {
			log.Errorw("request failed",
				"path", c.Request.URL.Path,
				"status", status,
				"request_id", types.GetRequestID(c.Request.Context()),
				"error", err)
		}

		detail := ErrorDetail{
			Message: userMessage(err),
			Details: reportableDetails(err),
		}
		if mode == types.ModeLocal {
			detail.InternalError = err.Error()
		}

		c.JSON(status, ErrorResponse{Error: detail})
	}
}

func userMessage(err error) string {
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	return "An unexpected error occurred"
}

// reportableDetails recovers the structured details the error builder
// attached as safe details
func reportableDetails(err error) map[string]any {
	for _, payload := range errors.GetAllSafeDetails(err) {
		for _, d := range payload.SafeDetails {
			idx := strings.Index(d, safeDetailsPrefix)
			if idx < 0 {
				continue
			}
			var details map[string]any
			if jsonErr := json.Unmarshal([]byte(d[idx+len(safeDetailsPrefix):]), &details); jsonErr == nil {
				return details
			}
		}
	}
	return nil
}
