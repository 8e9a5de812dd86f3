package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/jobs"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
)

// JobsHandler handles background matching job requests.
type JobsHandler struct {
	*Base
	jobs *jobs.Manager
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(svc *reconcile.Service, manager *jobs.Manager) *JobsHandler {
	return &JobsHandler{
		Base: NewBase(svc),
		jobs: manager,
	}
}

// Start handles POST /api/owners/:owner/jobs - starts a matching run in the
// background and returns immediately.
func (h *JobsHandler) Start(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	var req jobs.Request
	if !h.BindJSON(c, &req) {
		return
	}

	job, err := h.jobs.Start(owner, req)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}

	h.WriteJSON(c, http.StatusAccepted, job)
}

// List handles GET /api/owners/:owner/jobs.
func (h *JobsHandler) List(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	list := h.jobs.List(owner)
	h.WriteJSON(c, http.StatusOK, dto.JobListResponse{Jobs: list, Count: len(list)})
}

// Get handles GET /api/owners/:owner/jobs/:jobID.
func (h *JobsHandler) Get(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(owner, c.Param("jobID"))
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}

	h.WriteJSON(c, http.StatusOK, job)
}

// Cancel handles DELETE /api/owners/:owner/jobs/:jobID. Work the batch
// already committed is kept.
func (h *JobsHandler) Cancel(c *gin.Context) {
	owner, ok := h.Owner(c)
	if !ok {
		return
	}

	id := c.Param("jobID")
	if err := h.jobs.Cancel(owner, id); err != nil {
		h.WriteServiceError(c, err)
		return
	}

	job, err := h.jobs.Get(owner, id)
	if err != nil {
		h.WriteServiceError(c, err)
		return
	}
	h.WriteJSON(c, http.StatusOK, job)
}
