package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/pkg/api"
)

const orgIDKey = "org_id"

// Auth checks the platform bearer token and attaches the owning org id to the
// gin context for downstream prompt scoping.
func Auth(keys []config.APIKeyConfig) gin.HandlerFunc {
	table := make(map[string]string, len(keys))
	for _, k := range keys {
		table[k.Key] = k.OrgID
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorBody{Error: "Missing Authorization header"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorBody{Error: "Invalid Authorization header format"})
			return
		}

		orgID, ok := table[parts[1]]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorBody{Error: "Invalid API Key"})
			return
		}

		c.Set(orgIDKey, orgID)
		c.Next()
	}
}

// OrgID returns the authenticated org, empty when unauthenticated routes are
// hit without the middleware.
func OrgID(c *gin.Context) string {
	return c.GetString(orgIDKey)
}
