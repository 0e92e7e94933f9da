package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/services"
)

type DealHandler struct {
	Service *services.DealService
}

func NewDealHandler(service *services.DealService) *DealHandler {
	return &DealHandler{Service: service}
}

type moveDealRequest struct {
	StageID  uuid.UUID `json:"stage_id" binding:"required"`
	Position int       `json:"position"`
}

// @Summary      List deals with their client
// @Tags         Deals
// @Produce      json
// @Param        pipeline_id  query  string  false  "Only deals of this pipeline"
// @Success      200  {array}  models.Deal
// @Router       /deals [get]
func (h *DealHandler) List(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	pipelineID, ok := queryID(c, "pipeline_id")
	if !ok {
		return
	}
	deals, err := h.Service.List(c.Request.Context(), sess, pipelineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deals)
}

func (h *DealHandler) GetByID(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	deal, err := h.Service.Get(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// @Summary      Create a deal
// @Description  Queues a Chatwoot contact sync when a client is attached.
// @Tags         Deals
// @Accept       json
// @Produce      json
// @Param        deal  body      services.DealInput  true  "Deal"
// @Success      201   {object}  models.Deal
// @Failure      400   {object}  map[string]string
// @Router       /deals [post]
func (h *DealHandler) Create(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var in services.DealInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deal, err := h.Service.Create(c.Request.Context(), sess, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deal)
}

// @Summary      Update a deal
// @Tags         Deals
// @Accept       json
// @Produce      json
// @Param        id     path      string              true  "Deal id"
// @Param        patch  body      services.DealPatch  true  "Fields to change"
// @Success      200    {object}  models.Deal
// @Router       /deals/{id} [put]
func (h *DealHandler) Update(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var patch services.DealPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deal, err := h.Service.Update(c.Request.Context(), sess, id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// @Summary      Move a deal to a stage
// @Tags         Deals
// @Accept       json
// @Produce      json
// @Param        id    path      string           true  "Deal id"
// @Param        move  body      moveDealRequest  true  "Target stage and position"
// @Success      200   {object}  models.Deal
// @Router       /deals/{id}/move [post]
func (h *DealHandler) Move(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req moveDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deal, err := h.Service.Move(c.Request.Context(), sess, id, req.StageID, req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (h *DealHandler) Delete(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), sess, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
