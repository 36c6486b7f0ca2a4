package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/almanac/internal/draft"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/variable"
)

func (h *handlers) listDrafts(c *gin.Context) {
	list, err := draft.List(c.Request.Context(), h.st, c.Query("org"), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) draftStats(c *gin.Context) {
	stats, err := draft.GetStats(c.Request.Context(), h.st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type createDraftRequest struct {
	Variables        map[string]models.DraftVariable `json:"variables"`
	MissingVariables []string                        `json:"missing_variables"`
	Suggestions      []models.Suggestion             `json:"suggestions"`
}

func (h *handlers) createDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.CreateDraft(c.Request.Context(), c.Param("org"), c.Param("service"), draft.Input{
		Variables:   req.Variables,
		Missing:     req.MissingVariables,
		Suggestions: req.Suggestions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *handlers) getDraft(c *gin.Context) {
	d, err := draft.Get(c.Request.Context(), h.st, c.Param("org"), c.Param("service"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handlers) deleteDraft(c *gin.Context) {
	if err := h.svc.DeleteDraft(c.Request.Context(), c.Param("org"), c.Param("service")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) diffDraft(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := draft.Get(ctx, h.st, c.Param("org"), c.Param("service"))
	if err != nil {
		h.fail(c, err)
		return
	}
	current, err := variable.Load(ctx, h.st, d.OrgID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, draft.Compare(d, current))
}

func (h *handlers) approveDraft(c *gin.Context) {
	res, err := h.svc.Approve(c.Request.Context(), c.Param("org"), c.Param("service"), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) rejectDraft(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	d, err := h.svc.Reject(c.Request.Context(), c.Param("org"), c.Param("service"), actor(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handlers) submitDraft(c *gin.Context) {
	d, err := h.svc.SubmitDraft(c.Request.Context(), c.Param("org"), c.Param("service"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type updateDraftVariablesRequest struct {
	Variables map[string]draft.VariableUpdate `json:"variables"`
}

func (h *handlers) updateDraftVariables(c *gin.Context) {
	var req updateDraftVariablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.UpdateDraftVariables(c.Request.Context(), c.Param("org"), c.Param("service"), req.Variables)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type applySuggestionRequest struct {
	VariableName string   `json:"variable_name"`
	Value        string   `json:"value"`
	SourceURL    string   `json:"source_url"`
	Confidence   *float64 `json:"confidence"`
}

func (h *handlers) applySuggestion(c *gin.Context) {
	var req applySuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.ApplySuggestion(c.Request.Context(), c.Param("org"), c.Param("service"),
		req.VariableName, req.Value, req.SourceURL, req.Confidence)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type rejectSuggestionRequest struct {
	VariableName string `json:"variable_name"`
}

func (h *handlers) rejectSuggestion(c *gin.Context) {
	var req rejectSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.RejectSuggestion(c.Request.Context(), c.Param("org"), c.Param("service"), req.VariableName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
