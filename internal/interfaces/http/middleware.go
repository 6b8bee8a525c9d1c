package http

import (
	"github.com/gin-gonic/gin"

	"github.com/garyjia/pieceflow/internal/application/tenant"
)

// TenantHeader carries the tenant every API request is scoped to
const TenantHeader = "X-Tenant-ID"

// tenantMiddleware scopes the request context to the tenant named in the header.
// Requests without one are rejected before reaching a handler.
func tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tenant.WithID(c.Request.Context(), c.GetHeader(TenantHeader))
		if _, err := tenant.FromContext(ctx); err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
