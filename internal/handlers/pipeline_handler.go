package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crmsync/internal/services"
)

type PipelineHandler struct {
	Service *services.PipelineService
}

func NewPipelineHandler(service *services.PipelineService) *PipelineHandler {
	return &PipelineHandler{Service: service}
}

// @Summary      List pipelines
// @Tags         Pipelines
// @Produce      json
// @Success      200  {array}   models.Pipeline
// @Router       /pipelines [get]
func (h *PipelineHandler) List(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	list, err := h.Service.List(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Create a pipeline
// @Description  The owner's first pipeline always becomes the default one.
// @Tags         Pipelines
// @Accept       json
// @Produce      json
// @Param        pipeline  body      services.PipelineInput  true  "Pipeline"
// @Success      201       {object}  models.Pipeline
// @Failure      400       {object}  map[string]string
// @Router       /pipelines [post]
func (h *PipelineHandler) Create(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var in services.PipelineInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Service.Create(c.Request.Context(), sess, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary      Update a pipeline
// @Tags         Pipelines
// @Accept       json
// @Produce      json
// @Param        id     path      string                  true  "Pipeline id"
// @Param        patch  body      services.PipelinePatch  true  "Fields to change"
// @Success      200    {object}  models.Pipeline
// @Failure      409    {object}  map[string]string
// @Router       /pipelines/{id} [put]
func (h *PipelineHandler) Update(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var patch services.PipelinePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Service.Update(c.Request.Context(), sess, id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Make a pipeline the default
// @Tags         Pipelines
// @Produce      json
// @Param        id   path      string  true  "Pipeline id"
// @Success      200  {object}  models.Pipeline
// @Router       /pipelines/{id}/default [post]
func (h *PipelineHandler) SetDefault(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Service.SetDefault(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary      Delete a pipeline
// @Description  Fails with 409 while the pipeline has stages or is the default.
// @Tags         Pipelines
// @Param        id   path  string  true  "Pipeline id"
// @Success      204
// @Failure      409  {object}  map[string]string
// @Router       /pipelines/{id} [delete]
func (h *PipelineHandler) Delete(c *gin.Context) {
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

// @Summary      Reorder pipelines
// @Tags         Pipelines
// @Accept       json
// @Param        order  body  reorderRequest  true  "Every pipeline id, in order"
// @Success      204
// @Router       /pipelines/reorder [post]
func (h *PipelineHandler) Reorder(c *gin.Context) {
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
