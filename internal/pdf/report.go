// Package pdf renders pipeline reports.
package pdf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"crmsync/internal/models"
)

// Generator is implemented by ReportGenerator; handlers depend on it so
// tests can swap it.
type Generator interface {
	PipelineReport(w io.Writer, data ReportData) error
}

// ReportGenerator writes A4 reports. Without a readable FontPath it falls
// back to Helvetica with a cp1252 translation, which covers Portuguese.
type ReportGenerator struct {
	RootDir  string
	FontPath string
	fontName string
}

type ReportData struct {
	Pipeline    *models.Pipeline
	Stages      []*models.Stage
	Deals       []*models.Deal
	GeneratedAt time.Time
}

type StageSummary struct {
	Stage *models.Stage
	Deals []*models.Deal
	Total float64
}

func NewReportGenerator(rootDir, fontPath string) *ReportGenerator {
	return &ReportGenerator{
		RootDir:  filepath.Clean(rootDir),
		FontPath: fontPath,
		fontName: "DejaVu",
	}
}

// Summarize groups deals under their stage, in stage order, and returns the
// grand total. Deals of other pipelines are ignored.
func Summarize(stages []*models.Stage, deals []*models.Deal) ([]StageSummary, float64) {
	index := make(map[uuid.UUID]int, len(stages))
	out := make([]StageSummary, len(stages))
	for i, st := range stages {
		index[st.ID] = i
		out[i].Stage = st
	}
	var total float64
	for _, d := range deals {
		i, ok := index[d.StageID]
		if !ok {
			continue
		}
		out[i].Deals = append(out[i].Deals, d)
		out[i].Total += d.Value
		total += d.Value
	}
	return out, total
}

func (g *ReportGenerator) PipelineReport(w io.Writer, data ReportData) error {
	if data.Pipeline == nil {
		return fmt.Errorf("pipeline report: no pipeline")
	}
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Relatório: "+data.Pipeline.Name, true)
	pdf.SetAuthor("crmsync", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	font, tr := g.setupFont(pdf)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(font, "", 9)
		pdf.CellFormat(0, 10, fmt.Sprintf("Pág. %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(font, "B", 18)
	pdf.CellFormat(0, 10, tr(data.Pipeline.Name), "", 1, "C", false, 0, "")
	pdf.SetFont(font, "", 11)
	pdf.CellFormat(0, 6, tr("Gerado em "+data.GeneratedAt.Format("02.01.2006 15:04")), "", 1, "C", false, 0, "")
	hr(pdf)

	summaries, total := Summarize(data.Stages, data.Deals)
	for _, s := range summaries {
		pdf.Ln(2)
		pdf.SetFont(font, "B", 12)
		pdf.CellFormat(120, 7, tr(s.Stage.Name), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, tr(fmt.Sprintf("%d negócio(s)", len(s.Deals))), "", 1, "R", false, 0, "")

		pdf.SetFont(font, "", 10)
		for _, d := range s.Deals {
			title := d.Title
			if d.Client != nil && d.Client.Name != "" {
				title += " · " + d.Client.Name
			}
			pdf.CellFormat(120, 6, tr(title), "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, tr(models.FormatBRL(d.Value)), "", 1, "R", false, 0, "")
		}
		pdf.SetFont(font, "B", 10)
		pdf.CellFormat(120, 6, tr("Subtotal"), "T", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(models.FormatBRL(s.Total)), "T", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	hr(pdf)
	pdf.SetFont(font, "B", 13)
	pdf.CellFormat(120, 8, tr("Total do funil"), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, tr(models.FormatBRL(total)), "", 1, "R", false, 0, "")

	return pdf.Output(w)
}

// SaveReport writes the report under RootDir and returns its path.
func (g *ReportGenerator) SaveReport(data ReportData) (string, error) {
	if data.Pipeline == nil {
		return "", fmt.Errorf("pipeline report: no pipeline")
	}
	absPath, err := g.ensureTarget(fmt.Sprintf("pipeline_%s.pdf", data.Pipeline.ID))
	if err != nil {
		return "", err
	}
	f, err := os.Create(absPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := g.PipelineReport(f, data); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return absPath, nil
}

func (g *ReportGenerator) ensureTarget(filename string) (string, error) {
	if err := os.MkdirAll(g.RootDir, 0o755); err != nil {
		return "", fmt.Errorf("create files dir: %w", err)
	}
	return filepath.Join(g.RootDir, filepath.Base(filename)), nil
}

func (g *ReportGenerator) setupFont(pdf *gofpdf.Fpdf) (string, func(string) string) {
	if g.FontPath != "" {
		if _, err := os.Stat(g.FontPath); err == nil {
			pdf.AddUTF8Font(g.fontName, "", g.FontPath)
			pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
			return g.fontName, func(s string) string { return s }
		}
	}
	return "Helvetica", pdf.UnicodeTranslatorFromDescriptor("")
}

func hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}
