package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/draft"
	"github.com/zulandar/almanac/internal/job"
	"github.com/zulandar/almanac/internal/pipeline"
	"github.com/zulandar/almanac/internal/review"
	"github.com/zulandar/almanac/internal/store"
	"go.uber.org/zap"
)

const (
	actorHeader  = "X-Actor"
	defaultActor = "admin"
	actorKey     = "actor"
)

func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(actorHeader))
		if actor == "" {
			actor = defaultActor
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("actor", actor(c)),
		)
	}
}

// cronAuth requires "Authorization: Bearer <secret>" when a secret is set.
func cronAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInvalidState),
		errors.Is(err, pipeline.ErrBusy),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, draft.ErrTerminal),
		errors.Is(err, draft.ErrApprovalPending),
		errors.Is(err, review.ErrInvalidStatus),
		errors.Is(err, job.ErrNotResumable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
