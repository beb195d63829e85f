package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/auth"
)

const userIDKey = "user_id"

// AuthMiddleware extracts and validates the bearer token, leaving the
// user id in the request context.
func AuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		userID, err := tokens.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Set(userIDKey, string(userID))
		c.Next()
	}
}
