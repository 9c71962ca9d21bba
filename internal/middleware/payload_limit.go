// Package middleware provides HTTP middleware for the lock server.
package middleware

import (
	"errors"
	"net/http"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxPayloadBytesKey = "maxPayloadBytes"

// PayloadLimit returns a middleware that limits the request body size.
// Requests announcing a larger Content-Length are rejected up front; other
// bodies are wrapped in http.MaxBytesReader so reads past the limit fail.
func PayloadLimit(maxBytes int64, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 || c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			logOversizedRequest(logger, c, c.Request.ContentLength, maxBytes)
			respondPayloadTooLarge(c, maxBytes)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Set(maxPayloadBytesKey, maxBytes)

		c.Next()
	}
}

// PayloadLimitErrorHandler returns a middleware that turns a MaxBytesError
// recorded by a handler into a 413, unless the handler already responded.
// It should be placed before PayloadLimit in the middleware chain.
func PayloadLimitErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			var maxBytesErr *http.MaxBytesError
			if !errors.As(ginErr.Err, &maxBytesErr) {
				continue
			}
			maxBytes := c.GetInt64(maxPayloadBytesKey)
			logOversizedRequest(logger, c, maxBytesErr.Limit, maxBytes)
			if !c.Writer.Written() {
				respondPayloadTooLarge(c, maxBytes)
			}
			return
		}
	}
}

// logOversizedRequest logs information about an oversized request attempt.
func logOversizedRequest(logger zerolog.Logger, c *gin.Context, attemptedSize, maxBytes int64) {
	logger.Warn().
		Str("clientIP", c.ClientIP()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int64("attemptedSize", attemptedSize).
		Int64("maxBytes", maxBytes).
		Str("userAgent", c.Request.UserAgent()).
		Msg("oversized request rejected")
}

// respondPayloadTooLarge sends a 413 Payload Too Large response.
func respondPayloadTooLarge(c *gin.Context, maxBytes int64) {
	c.String(http.StatusRequestEntityTooLarge, "request body exceeds %s", units.BytesSize(float64(maxBytes)))
	c.Abort()
}
