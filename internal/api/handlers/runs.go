package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// RunsHandler handles batch run history requests.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(svc *reconcile.Service) *RunsHandler {
	return &RunsHandler{
		Base: NewBase(svc),
	}
}

// List handles GET /api/owners/:owner/runs - returns the owner's recent runs.
func (h *RunsHandler) List(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}
	limit := ParseIntParam(c, "limit", 20)

	runs, err := h.svc.ListRuns(c.Request.Context(), owner, limit)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}

	response := dto.RunListResponse{
		Runs:  make([]dto.RunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, dto.NewRunResponse(run))
	}

	h.WriteJSON(c, http.StatusOK, response)
}

// Get handles GET /api/owners/:owner/runs/:id - returns a single run.
func (h *RunsHandler) Get(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid run ID"))
		return
	}

	run, err := h.svc.GetRun(c.Request.Context(), owner, id)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}

	h.WriteJSON(c, http.StatusOK, dto.NewRunResponse(*run))
}
