package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sessionKey = "session_id"
	// AnonymousSession is used when no tokens are configured
	AnonymousSession = "anonymous"
)

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request",
				"method", method,
				"path", path,
				"status", status,
				"latency", latency.String(),
				"client_ip", c.ClientIP(),
			)
			return
		}
		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// authMiddleware resolves the bearer token to a session. Browsers cannot set
// headers on EventSource or WebSocket requests, so the access_token query
// parameter is accepted as well. With no tokens configured every request runs
// as the anonymous session.
func authMiddleware(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			c.Set(sessionKey, AnonymousSession)
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		session, ok := tokens[token]
		if token == "" || !ok {
			respondError(c, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid token")
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// sessionID returns the authenticated session of the request
func sessionID(c *gin.Context) string {
	if v := c.GetString(sessionKey); v != "" {
		return v
	}
	return AnonymousSession
}
