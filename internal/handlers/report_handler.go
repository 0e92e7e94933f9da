package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"crmsync/internal/pdf"
	"crmsync/internal/services"
)

type ReportHandler struct {
	Pipelines *services.PipelineService
	Stages    *services.StageService
	Deals     *services.DealService
	Generator pdf.Generator
}

func NewReportHandler(pipelines *services.PipelineService, stages *services.StageService, deals *services.DealService, gen pdf.Generator) *ReportHandler {
	return &ReportHandler{Pipelines: pipelines, Stages: stages, Deals: deals, Generator: gen}
}

// @Summary      Pipeline report
// @Description  PDF with the deals of every stage, stage subtotals and the pipeline total.
// @Tags         Reports
// @Produce      application/pdf
// @Param        id   path  string  true  "Pipeline id"
// @Success      200  {file}  file
// @Router       /pipelines/{id}/report.pdf [get]
func (h *ReportHandler) PipelineReport(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := h.Pipelines.Get(ctx, sess, id)
	if err != nil {
		respondError(c, err)
		return
	}
	stages, err := h.Stages.List(ctx, sess, &p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	deals, err := h.Deals.List(ctx, sess, &p.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	data := pdf.ReportData{Pipeline: p, Stages: stages, Deals: deals, GeneratedAt: time.Now()}
	if err := h.Generator.PipelineReport(&buf, data); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="pipeline_`+p.ID.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
