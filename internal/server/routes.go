package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/pipeline"
	"github.com/zulandar/almanac/internal/scheduler"
	"github.com/zulandar/almanac/internal/store"
	"go.uber.org/zap"
)

type handlers struct {
	svc   *pipeline.Service
	st    store.Store
	sched *scheduler.Scheduler
	log   *zap.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers, cronSecret string) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	org := api.Group("/orgs/:org")
	org.POST("/jobs", h.createJob)
	org.GET("/jobs", h.listJobs)
	org.GET("/jobs/latest", h.latestJob)
	org.POST("/jobs/resume", h.resumeJob)

	api.GET("/drafts", h.listDrafts)
	api.GET("/drafts/stats", h.draftStats)
	org.POST("/drafts/:service", h.createDraft)
	org.GET("/drafts/:service", h.getDraft)
	org.DELETE("/drafts/:service", h.deleteDraft)
	org.GET("/drafts/:service/diff", h.diffDraft)
	org.POST("/drafts/:service/approve", h.approveDraft)
	org.POST("/drafts/:service/reject", h.rejectDraft)
	org.POST("/drafts/:service/submit", h.submitDraft)
	org.PATCH("/drafts/:service/variables", h.updateDraftVariables)
	org.POST("/drafts/:service/suggestions/apply", h.applySuggestion)
	org.POST("/drafts/:service/suggestions/reject", h.rejectSuggestion)

	org.GET("/variables", h.getVariables)
	org.PUT("/variables", h.putVariables)
	org.POST("/variables/import", h.importVariables)
	org.DELETE("/variables/:name", h.deleteVariable)

	org.GET("/history", h.listHistory)
	org.GET("/history/stats", h.historyStats)
	org.GET("/history/:id", h.getHistoryEntry)

	api.GET("/reviews", h.listAllReviews)
	org.GET("/reviews", h.listReviews)
	org.GET("/reviews/*page", h.getReview)
	org.POST("/reviews/*page", h.actOnReview)
	org.GET("/sources/latest", h.latestSourceCheck)
	org.POST("/sources/check", h.checkSources)

	api.GET("/notifications", h.listNotifications)
	api.GET("/notifications/stats", h.notificationStats)
	api.POST("/notifications/read-all", h.markAllRead)
	api.POST("/notifications/:id/read", h.markRead)
	api.DELETE("/notifications/:id", h.deleteNotification)
	api.GET("/events", h.events)

	api.GET("/schedule", h.schedule)

	cron := api.Group("/cron", cronAuth(cronSecret))
	cron.POST("/update", h.cronUpdate)
	cron.POST("/check-sources", h.cronCheckSources)
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// queryTime parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	badRequest(c, name+" must be RFC 3339 or YYYY-MM-DD")
	return time.Time{}, false
}

func (h *handlers) schedule(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusOK, []scheduler.Status{})
		return
	}
	c.JSON(http.StatusOK, h.sched.Statuses())
}

func (h *handlers) cronUpdate(c *gin.Context) {
	res, err := h.svc.RunBatch(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) cronCheckSources(c *gin.Context) {
	res, err := h.svc.RunSourceCheck(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
