package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/jobs"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// Base provides shared functionality for all handlers.
type Base struct {
	svc *reconcile.Service
}

// NewBase creates a new base handler with the given service.
func NewBase(svc *reconcile.Service) *Base {
	return &Base{svc: svc}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// WriteError writes an error response with the given status code and stops
// the handler chain.
func (b *Base) WriteError(c *gin.Context, status int, err dto.APIError) {
	c.AbortWithStatusJSON(status, err)
}

// WriteServiceError maps a service error to a status and error body.
func (b *Base) WriteServiceError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		b.WriteError(c, http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, err.Error()))
	case errors.Is(err, ledger.ErrInvalidInput):
		b.WriteError(c, http.StatusBadRequest, dto.ValidationError(err.Error()))
	case errors.Is(err, ledger.ErrOwnerMismatch):
		b.WriteError(c, http.StatusForbidden, dto.ForbiddenError(err.Error()))
	case errors.Is(err, ledger.ErrAmountMutation), errors.Is(err, ledger.ErrAlreadyLinked),
		errors.Is(err, jobs.ErrOwnerBusy), errors.Is(err, jobs.ErrJobFinished):
		b.WriteError(c, http.StatusConflict, dto.ConflictError(err.Error()))
	default:
		b.WriteError(c, http.StatusInternalServerError, dto.InternalError())
	}
}

// Owner parses the :owner path parameter. On failure it writes a 400 and
// returns false.
func (b *Base) Owner(c *gin.Context) (ledger.OwnerID, bool) {
	owner, err := ledger.ParseOwnerID(c.Param("owner"))
	if err != nil {
		b.WriteError(c, http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return "", false
	}
	return owner, true
}

// BindJSON decodes the request body into v. On failure it writes a 400 and
// returns false.
func (b *Base) BindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		b.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// BindOptionalJSON is BindJSON for endpoints whose body may be omitted.
func (b *Base) BindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		b.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(c *gin.Context, name string, defaultVal int) int {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// ParseBoolParam parses a boolean query parameter with a default value.
func ParseBoolParam(c *gin.Context, name string, defaultVal bool) bool {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}
