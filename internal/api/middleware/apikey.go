package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/passifypro/passify/internal/config"
)

// Context keys set by APIKeyAuth.
const (
	ActorNameKey = "actor_name"
	ActorRoleKey = "actor_role"
)

// APIKeyAuth returns a middleware that authenticates requests against the
// configured API keys. Keys are presented as a bearer token or X-API-Key
// header and compared against bcrypt hashes; plaintext keys are never stored
// or logged.
func APIKeyAuth(keys []config.APIKeyEntry, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth").Logger()

	return func(c *gin.Context) {
		presented := extractKey(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}

		for _, entry := range keys {
			if bcrypt.CompareHashAndPassword([]byte(entry.KeyHash), []byte(presented)) == nil {
				c.Set(ActorNameKey, entry.Name)
				c.Set(ActorRoleKey, entry.Role)
				c.Next()
				return
			}
		}

		log.Warn().Str("client_ip", c.ClientIP()).Msg("rejected unknown API key")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}

// RequireRole returns a middleware that gates a route group to one role.
// Operators pass every gate.
func RequireRole(role config.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := c.Get(ActorRoleKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}

		actorRole, _ := actor.(config.ActorRole)
		if actorRole != role && actorRole != config.RoleOperator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}
