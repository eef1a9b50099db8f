package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/teamclash/backend/internal/admin"
	"github.com/teamclash/backend/internal/auth"
)

const PlayerIDKey = "player_id"

// RequirePlayer validates the bearer JWT and stores the player id in the gin context.
// The websocket endpoint may pass the token as ?token= instead, since browsers
// cannot set headers on an upgrade request.
func RequirePlayer(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing token", "code": "unauthorized"})
			return
		}

		playerID, err := auth.Parse(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token", "code": "unauthorized"})
			return
		}

		c.Set(PlayerIDKey, playerID)
		c.Next()
	}
}

// PlayerID returns the id set by RequirePlayer
func PlayerID(c *gin.Context) string {
	return c.GetString(PlayerIDKey)
}

// RequireAdmin checks the X-Admin-Token header against the configured bcrypt hash.
// An empty hash disables the admin routes entirely.
func RequireAdmin(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "admin access disabled", "code": "forbidden"})
			return
		}
		token := c.GetHeader("X-Admin-Token")
		if token == "" || !admin.VerifyToken(tokenHash, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid admin token", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
