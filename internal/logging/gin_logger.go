package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key carrying the per-request id.
const RequestIDKey = "request_id"

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests
// and responses using logrus. It captures method, path, status code,
// latency and client IP, and propagates a request id via response headers.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.Request.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()[:8]
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": requestID,
		})

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()
		logLine := fmt.Sprintf("%3d | %13v | %15s | %-7s %q", statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinLogrusRecovery returns a Gin middleware that recovers from panics,
// logs the stack trace, and responds with a 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				// net/http uses this sentinel to abort a response without a
				// terminal chunk; it must propagate untouched.
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				requestID, _ := c.Get(RequestIDKey)
				log.WithFields(log.Fields{
					"request_id": requestID,
					"error":      recovered,
				}).Errorf("panic recovered: %s", debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
