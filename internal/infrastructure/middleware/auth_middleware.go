package middleware

import (
	"net/http"
	"strings"

	"liveorch/internal/core/services"
	"liveorch/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyOperatorID = "operator_id"
	ContextKeyRole       = "role"
)

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware requires a valid access token and stores its claims on
// both the gin context and the request context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ctx := services.ContextWithClaims(c.Request.Context(), claims)
		ctx = logger.WithOperatorID(ctx, claims.OperatorID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextKeyOperatorID, claims.OperatorID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(authService services.AuthService, role services.OperatorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := services.ClaimsFromContext(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if err := authService.CheckRole(claims, role); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}
