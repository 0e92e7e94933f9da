package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/authz"
	"crmsync/internal/models"
	"crmsync/internal/repositories"
	"crmsync/internal/syncbridge"
)

// Retrier re-arms an outbox entry; *syncbridge.Dispatcher implements it.
type Retrier interface {
	Retry(ctx context.Context, owner, id uuid.UUID) error
}

// Validator checks the chat platform credentials.
type Validator interface {
	Validate(ctx context.Context) syncbridge.Result
}

type SyncHandler struct {
	Outbox    repositories.OutboxRepository
	Retrier   Retrier
	Validator Validator // nil when Chatwoot is not configured
}

func NewSyncHandler(outbox repositories.OutboxRepository, retrier Retrier, validator Validator) *SyncHandler {
	return &SyncHandler{Outbox: outbox, Retrier: retrier, Validator: validator}
}

// scope returns the owner filter: admins asking for all=true see every owner.
func (h *SyncHandler) scope(c *gin.Context) (uuid.UUID, bool) {
	sess, ok := sessionFrom(c)
	if !ok {
		return uuid.Nil, false
	}
	if c.Query("all") == "true" && authz.SeesAllOwners(roleFrom(c)) {
		return uuid.Nil, true
	}
	return sess.OwnerID, true
}

// @Summary      List outbox entries
// @Tags         Sync
// @Produce      json
// @Param        status  query  string  false  "pending, done or dead"
// @Param        limit   query  int     false  "Max entries"
// @Param        all     query  bool    false  "Every owner (admin only)"
// @Success      200  {array}  models.OutboxEntry
// @Router       /sync/outbox [get]
func (h *SyncHandler) ListOutbox(c *gin.Context) {
	owner, ok := h.scope(c)
	if !ok {
		return
	}
	status := models.OutboxStatus(c.Query("status"))
	switch status {
	case "", models.OutboxPending, models.OutboxDone, models.OutboxDead:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, done or dead"})
		return
	}
	entries, err := h.Outbox.ListOutbox(c.Request.Context(), owner, status, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// @Summary      Retry an outbox entry now
// @Tags         Sync
// @Param        id   path  string  true  "Outbox entry id"
// @Success      202
// @Failure      404  {object}  map[string]string
// @Router       /sync/outbox/{id}/retry [post]
func (h *SyncHandler) RetryOutbox(c *gin.Context) {
	owner, ok := h.scope(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Retrier.Retry(c.Request.Context(), owner, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": models.OutboxPending})
}

// @Summary      Check the Chatwoot connection
// @Tags         Sync
// @Produce      json
// @Success      200  {object}  syncbridge.Result
// @Failure      502  {object}  syncbridge.Result
// @Failure      503  {object}  syncbridge.Result
// @Router       /sync/validate [post]
func (h *SyncHandler) Validate(c *gin.Context) {
	if h.Validator == nil {
		c.JSON(http.StatusServiceUnavailable, syncbridge.Result{Message: "chatwoot is not configured"})
		return
	}
	res := h.Validator.Validate(c.Request.Context())
	if !res.Success {
		c.JSON(http.StatusBadGateway, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
