package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/history"
	"github.com/zulandar/almanac/internal/variable"
)

func (h *handlers) getVariables(c *gin.Context) {
	vars, err := variable.Load(c.Request.Context(), h.st, c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vars)
}

type putVariablesRequest struct {
	Variables map[string]string `json:"variables"`
}

func (h *handlers) putVariables(c *gin.Context) {
	var req putVariablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	changes, err := h.svc.UpdateVariables(c.Request.Context(), c.Param("org"), actor(c), req.Variables)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *handlers) importVariables(c *gin.Context) {
	changes, err := h.svc.ImportCSV(c.Request.Context(), c.Param("org"), actor(c), c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *handlers) deleteVariable(c *gin.Context) {
	if err := h.svc.DeleteVariable(c.Request.Context(), c.Param("org"), actor(c), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	list, err := history.List(c.Request.Context(), h.st, c.Param("org"), history.ListOptions{
		Limit:  limit,
		Offset: offset,
		From:   from,
		To:     to,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) historyStats(c *gin.Context) {
	stats, err := history.GetStats(c.Request.Context(), h.st, c.Param("org"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) getHistoryEntry(c *gin.Context) {
	e, err := history.GetEntry(c.Request.Context(), h.st, c.Param("org"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
