package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/gateway"
)

// Identity headers.
const (
	HeaderUserID       = "X-User-ID"
	HeaderServiceCall  = "X-Service-Call"
	HeaderServiceToken = "X-Service-Token"
)

const callerKey = "opsflow_caller"

// identify stores the request's gateway.Caller. A service call must present
// token when one is configured.
func identify(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := gateway.Caller{UserID: strings.TrimSpace(c.GetHeader(HeaderUserID))}

		if strings.EqualFold(c.GetHeader(HeaderServiceCall), "true") {
			presented := c.GetHeader(HeaderServiceToken)
			if token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				abortWithError(c, common.ErrUnauthenticated)
				return
			}
			caller.IsService = true
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) gateway.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(gateway.Caller); ok {
			return caller
		}
	}
	return gateway.Caller{}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

// cors answers preflight requests and stamps the allow headers. An empty list
// or "*" allows every origin.
func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Authorization", HeaderUserID, HeaderServiceCall, HeaderServiceToken,
		}, ", "))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
