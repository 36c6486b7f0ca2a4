package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/job"
	"github.com/zulandar/almanac/internal/pipeline"
)

type createJobRequest struct {
	Services []string `json:"services"`
}

func (h *handlers) createJob(c *gin.Context) {
	var req createJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	j, err := h.svc.StartFetch(c.Request.Context(), c.Param("org"), req.Services, pipeline.RunOptions{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (h *handlers) listJobs(c *gin.Context) {
	jobs, err := job.List(c.Request.Context(), h.st, c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *handlers) latestJob(c *gin.Context) {
	j, err := h.svc.LatestJob(c.Request.Context(), c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":        j,
		"summary":    job.Summarize(j),
		"can_resume": job.CanResume(j),
	})
}

func (h *handlers) resumeJob(c *gin.Context) {
	j, err := h.svc.StartResume(c.Request.Context(), c.Param("org"), pipeline.RunOptions{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}
