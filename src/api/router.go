package api

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "vibetunnel/server/docs" // generated swagger spec
	"vibetunnel/server/src/config"
	"vibetunnel/server/src/fanout"
	"vibetunnel/server/src/federation"
	"vibetunnel/server/src/handler"
	"vibetunnel/server/src/session"
)

// Deps bundles the collaborators SetupRouter wires into handlers: the
// session store, federation registry (nil unless this node is HQ), and the
// buffer fan-out hub, each passed in explicitly rather than held as a
// package global.
type Deps struct {
	Config    *config.Config
	Store     *session.Store
	Registry  *federation.Registry
	BufferHub *fanout.BufferHub
	Version   string
}

// SetupRouter configures every route the Session API and the HQ
// federation endpoints expose.
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())

	if deps.Config.EnableServerTiming {
		r.Use(processingTimeMiddleware())
	}
	if !deps.Config.DisableRequestLogging {
		r.Use(logrusMiddleware())
	}

	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	sessionHandler := handler.NewSessionHandler(deps.Store, deps.Config, deps.Registry, deps.BufferHub, deps.Version)
	bufferHandler := handler.NewBufferHandler(deps.BufferHub, deps.Version)
	remotesHandler := handler.NewRemotesHandler(deps.Registry, deps.Store)

	mode := "standalone"
	if deps.Config.IsHQ {
		mode = "hq"
	} else if deps.Config.HQURL != "" {
		mode = "remote"
	}
	systemHandler := handler.NewSystemHandler(mode)

	r.GET("/buffers", bufferHandler.HandleBuffers)

	api := r.Group("/api")
	api.Use(authMiddleware(deps.Config))
	{
		api.GET("/health", systemHandler.HandleHealth)

		api.GET("/sessions", sessionHandler.HandleList)
		api.POST("/sessions", sessionHandler.HandleCreate)
		api.GET("/sessions/multistream", sessionHandler.HandleMultistream)
		api.GET("/sessions/:id", sessionHandler.HandleGet)
		api.DELETE("/sessions/:id", sessionHandler.HandleKill)
		api.DELETE("/sessions/:id/cleanup", sessionHandler.HandleCleanup)
		api.POST("/sessions/:id/cleanup", sessionHandler.HandleCleanup)
		api.POST("/sessions/:id/input", sessionHandler.HandleInput)
		api.POST("/sessions/:id/resize", sessionHandler.HandleResize)
		api.GET("/sessions/:id/stream", sessionHandler.HandleStream)
		api.GET("/sessions/:id/snapshot", sessionHandler.HandleSnapshot)

		api.POST("/cleanup-exited", remotesHandler.HandleCleanupExited)

		api.GET("/remotes", remotesHandler.HandleList)
		api.POST("/remotes/register", remotesHandler.HandleRegister)
		api.DELETE("/remotes/:id", remotesHandler.HandleUnregister)
		api.POST("/remotes/:name/refresh-sessions", remotesHandler.HandleRefreshSessions)
	}

	return r
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware adds no-cache headers to all responses to prevent caching issues
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		c.Next()
	}
}

// sensitiveQueryParams contains query parameter names that should be redacted from logs
var sensitiveQueryParams = []string{
	"api_key", "apikey", "api-key",
	"token", "access_token", "refresh_token", "auth_token", "bearer",
	"password", "passwd", "pwd",
	"secret", "client_secret", "api_secret",
	"key", "private_key", "encryption_key",
	"authorization", "auth",
	"credential", "credentials",
	"session", "session_id", "sessionid",
	"jwt",
}

// redactSecrets redacts sensitive information from a URL path with query string
func redactSecrets(pathWithQuery string) string {
	parts := strings.SplitN(pathWithQuery, "?", 2)
	if len(parts) != 2 {
		return pathWithQuery
	}

	basePath := parts[0]
	queryString := parts[1]

	values, err := url.ParseQuery(queryString)
	if err != nil {
		return redactQueryPatterns(pathWithQuery)
	}

	hasSecrets := false
	for _, param := range sensitiveQueryParams {
		if values.Get(param) != "" {
			hasSecrets = true
			break
		}
		for key := range values {
			if strings.EqualFold(key, param) {
				hasSecrets = true
				break
			}
		}
	}

	if !hasSecrets {
		return pathWithQuery
	}

	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[REDACTED]")
				break
			}
		}
	}

	return basePath + "?" + values.Encode()
}

// redactQueryPatterns redacts secrets using regex patterns when URL parsing fails
func redactQueryPatterns(pathWithQuery string) string {
	result := pathWithQuery
	for _, param := range sensitiveQueryParams {
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(param) + `=)[^&\s]*`)
		result = pattern.ReplaceAllString(result, "${1}[REDACTED]")
	}
	return result
}

func logrusMiddleware() gin.HandlerFunc {
	var skip map[string]struct{}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		sanitizedPath := redactSecrets(path)

		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		if _, ok := skip[path]; ok {
			return
		}

		if len(c.Errors) > 0 {
			logrus.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		} else {
			msg := fmt.Sprintf("%s %s %d %d %dms", c.Request.Method, sanitizedPath, statusCode, dataLength, latency)
			if statusCode >= http.StatusInternalServerError {
				logrus.Error(msg)
			} else if statusCode >= http.StatusBadRequest {
				logrus.Error(msg)
			} else {
				logrus.Info(msg)
			}
		}
	}
}
