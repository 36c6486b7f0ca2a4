package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/review"
)

func (h *handlers) listAllReviews(c *gin.Context) {
	pages, err := review.PendingAll(c.Request.Context(), h.st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pages)
}

func (h *handlers) listReviews(c *gin.Context) {
	pages, err := review.Pending(c.Request.Context(), h.st, c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pages)
}

// page returns the catch-all page path, which keeps its leading slash.
func page(c *gin.Context) string {
	p := c.Param("page")
	if p == "" {
		return "/"
	}
	return p
}

func (h *handlers) getReview(c *gin.Context) {
	r, err := review.Get(c.Request.Context(), h.st, c.Param("org"), page(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reviewActionRequest struct {
	Action string `json:"action"`
}

func (h *handlers) actOnReview(c *gin.Context) {
	var req reviewActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	org, p := c.Param("org"), page(c)

	var err error
	var out any
	switch req.Action {
	case "approve":
		out, err = h.svc.ApprovePageReview(ctx, org, p, actor(c))
	case "dismiss":
		out, err = h.svc.DismissPageReview(ctx, org, p, actor(c))
	case "start":
		out, err = h.svc.StartPageReview(ctx, org, p, actor(c))
	default:
		badRequest(c, `action must be one of "approve", "dismiss", "start"`)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) latestSourceCheck(c *gin.Context) {
	res, err := review.LatestResult(c.Request.Context(), h.st, c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) checkSources(c *gin.Context) {
	res, err := h.svc.CheckSources(c.Request.Context(), c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
