package pdf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/models"
)

func sampleReport() ReportData {
	p := &models.Pipeline{ID: uuid.New(), Name: "Vendas"}
	novo := &models.Stage{ID: uuid.New(), Name: "Novo Lead"}
	neg := &models.Stage{ID: uuid.New(), Name: "Negociação"}
	return ReportData{
		Pipeline: p,
		Stages:   []*models.Stage{novo, neg},
		Deals: []*models.Deal{
			{Title: "Seguro Auto", Value: 1500, StageID: neg.ID, Client: &models.ClientRef{Name: "João"}},
			{Title: "Seguro Vida", Value: 250.5, StageID: neg.ID},
			{Title: "Residencial", Value: 300, StageID: novo.ID},
			{Title: "Outro funil", Value: 999, StageID: uuid.New()},
		},
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSummarize(t *testing.T) {
	data := sampleReport()
	sums, total := Summarize(data.Stages, data.Deals)
	require.Len(t, sums, 2)
	assert.Equal(t, "Novo Lead", sums[0].Stage.Name)
	assert.Len(t, sums[0].Deals, 1)
	assert.InDelta(t, 300, sums[0].Total, 0.001)
	assert.Len(t, sums[1].Deals, 2)
	assert.InDelta(t, 1750.5, sums[1].Total, 0.001)
	assert.InDelta(t, 2050.5, total, 0.001)
}

func TestPipelineReportWithoutFont(t *testing.T) {
	g := NewReportGenerator(t.TempDir(), filepath.Join(t.TempDir(), "missing.ttf"))
	var buf bytes.Buffer
	require.NoError(t, g.PipelineReport(&buf, sampleReport()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestPipelineReportRequiresPipeline(t *testing.T) {
	g := NewReportGenerator(t.TempDir(), "")
	assert.Error(t, g.PipelineReport(&bytes.Buffer{}, ReportData{}))
}

func TestSaveReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	g := NewReportGenerator(dir, "")
	data := sampleReport()

	path, err := g.SaveReport(data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pipeline_"+data.Pipeline.ID.String()+".pdf"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
