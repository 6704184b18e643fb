package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/Brownie44l1/leaf-infer/internal/metric"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	HeaderRequestID  = "X-Request-Id"
	ContextRequestID = "requestID"
)

// RequestID propagates the caller's request id or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// HTTPLogger writes one access log line and request metrics per call.
func HTTPLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		statusCode := c.Writer.Status()

		tags := metric.BuildTag(
			metric.NewTag(metric.TagPath, path),
			metric.NewTag(metric.TagMethod, method),
			metric.NewTag(metric.TagHttpStatusCode, strconv.Itoa(statusCode)),
		)
		metric.Incr(metric.ApiRequestCount, tags)
		metric.Timing(metric.ApiRequestLatency, latency, tags)
		log.Info().Str(ContextRequestID, c.GetString(ContextRequestID)).
			Msgf("[access] [%s] %s %s %d %v", c.ClientIP(), method, path, statusCode, latency)
	}
}

// HTTPRecovery turns a panic into a 500 carrying the panic value and stack,
// the same body shape as any other inference fault.
func HTTPRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Error().Str(ContextRequestID, c.GetString(ContextRequestID)).
					Msgf("Recovered from panic: %v, stack: %s", r, stack)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":     fmt.Sprint(r),
					"traceback": string(stack),
				})
			}
		}()
		c.Next()
	}
}
