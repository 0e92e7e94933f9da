package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/middleware"
	"crmsync/internal/repositories"
	"crmsync/internal/services"
)

// reorderRequest is the body of every reorder endpoint.
type reorderRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required"`
}

func sessionFrom(c *gin.Context) (services.Session, bool) {
	v, _ := c.Get(middleware.CtxOwnerID)
	owner, _ := v.(uuid.UUID)
	if owner == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no owner in context"})
		return services.Session{}, false
	}
	return services.NewSession(owner), true
}

func roleFrom(c *gin.Context) int {
	return c.GetInt(middleware.CtxRoleID)
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional uuid query parameter.
func queryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// respondError maps domain errors to status codes. Unexpected errors are
// attached to the context for the access log and answered generically.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repositories.ErrStageNotEmpty),
		errors.Is(err, repositories.ErrPipelineNotEmpty),
		errors.Is(err, repositories.ErrDefaultPipeline),
		errors.Is(err, services.ErrDefaultRequired):
		status = http.StatusConflict
	case errors.Is(err, repositories.ErrInvalidOrder),
		errors.Is(err, services.ErrStageRequired),
		errors.Is(err, services.ErrPipelineRequired),
		errors.Is(err, services.ErrNameRequired),
		errors.Is(err, services.ErrTitleRequired):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNoSession):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
