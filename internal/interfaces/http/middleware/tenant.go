// internal/interfaces/http/middleware/tenant.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const tenantHeader = "X-Tenant-ID"

// Tenant requires the X-Tenant-ID header on every request. All stock data is
// partitioned by tenant; there is no cross-tenant fallback.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "X-Tenant-ID header required",
			})
			c.Abort()
			return
		}
		if len(tenantID) > 64 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "X-Tenant-ID header too long",
			})
			c.Abort()
			return
		}

		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

// GetTenantIDFromContext extracts the tenant id from gin context
func GetTenantIDFromContext(c *gin.Context) (string, bool) {
	tenantID, exists := c.Get("tenant_id")
	if !exists {
		return "", false
	}
	return tenantID.(string), true
}
