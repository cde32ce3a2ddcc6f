package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/config"
)

// authMiddleware enforces that every /api/* request except /api/health
// needs either valid Basic credentials, or (remote nodes only) a bearer
// token matching the configured remote token. HQ nodes never accept a
// bearer token for this check.
func authMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		if cfg.Username == "" && cfg.Password == "" && cfg.RemoteToken == "" {
			c.Next()
			return
		}

		if !cfg.IsHQ && cfg.RemoteToken != "" {
			if token, ok := bearerToken(c); ok && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.RemoteToken)) == 1 {
				c.Next()
				return
			}
		}

		username, password, ok := c.Request.BasicAuth()
		if ok && constantTimeEqual(username, cfg.Username) && constantTimeEqual(password, cfg.Password) {
			c.Next()
			return
		}

		c.Header("WWW-Authenticate", `Basic realm="VibeTunnel"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix), true
	}
	return "", false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
