package middleware

import (
	"github.com/gin-gonic/gin"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
)

// RequestContext threads the request id and caller identity through the
// request context so every layer below can log and attribute consistently
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = types.GenerateUUID()
		}

		ctx := c.Request.Context()
		ctx = types.SetRequestID(ctx, requestID)
		if tenantID := c.GetHeader("X-Tenant-ID"); tenantID != "" {
			ctx = types.SetTenantID(ctx, tenantID)
		}
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx = types.SetUserID(ctx, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// TenantRequired rejects requests without a tenant identity; everything
// except health and the provider webhook runs behind it
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := types.ValidateTenantContext(c.Request.Context()); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("X-Tenant-ID header is required").
				Mark(ierr.ErrValidation))
			c.Abort()
			return
		}
		c.Next()
	}
}
