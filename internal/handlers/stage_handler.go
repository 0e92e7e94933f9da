package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/services"
)

type StageHandler struct {
	Service *services.StageService
}

func NewStageHandler(service *services.StageService) *StageHandler {
	return &StageHandler{Service: service}
}

type createStageRequest struct {
	PipelineID *uuid.UUID `json:"pipeline_id"`
	Name       string     `json:"name"`
	Color      string     `json:"color"`
}

type updateStageRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

type initializeStagesRequest struct {
	PipelineID *uuid.UUID `json:"pipeline_id"`
}

// @Summary      List stages
// @Tags         Stages
// @Produce      json
// @Param        pipeline_id  query  string  false  "Only stages of this pipeline"
// @Success      200  {array}  models.Stage
// @Router       /stages [get]
func (h *StageHandler) List(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	pipelineID, ok := queryID(c, "pipeline_id")
	if !ok {
		return
	}
	list, err := h.Service.List(c.Request.Context(), sess, pipelineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Create a stage at the end of a pipeline
// @Tags         Stages
// @Accept       json
// @Produce      json
// @Param        stage  body      createStageRequest  true  "Stage"
// @Success      201    {object}  models.Stage
// @Router       /stages [post]
func (h *StageHandler) Create(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var req createStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Service.Create(c.Request.Context(), sess, req.PipelineID, req.Name, req.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// @Summary      Insert the six default stages
// @Tags         Stages
// @Accept       json
// @Produce      json
// @Param        body  body     initializeStagesRequest  true  "Target pipeline"
// @Success      201   {array}  models.Stage
// @Router       /stages/initialize [post]
func (h *StageHandler) Initialize(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var req initializeStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stages, err := h.Service.InitializeDefaults(c.Request.Context(), sess, req.PipelineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stages)
}

func (h *StageHandler) Update(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req updateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Service.Rename(c.Request.Context(), sess, id, req.Name, req.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Delete a stage
// @Description  Fails with 409 while deals are in the stage.
// @Tags         Stages
// @Param        id   path  string  true  "Stage id"
// @Success      204
// @Failure      409  {object}  map[string]string
// @Router       /stages/{id} [delete]
func (h *StageHandler) Delete(c *gin.Context) {
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

func (h *StageHandler) Reorder(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Service.Reorder(c.Request.Context(), sess, req.IDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Push every stage as a Chatwoot label
// @Tags         Stages
// @Produce      json
// @Success      202  {object}  models.OutboxEntry
// @Router       /stages/sync-labels [post]
func (h *StageHandler) SyncLabels(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	entry, err := h.Service.SyncLabels(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, entry)
}
