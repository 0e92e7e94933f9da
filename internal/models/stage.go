package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Stage struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       uuid.UUID  `json:"user_id"`
	PipelineID    *uuid.UUID `json:"pipeline_id"` // nil only for rows created before pipelines existed
	Name          string     `json:"name"`
	Color         string     `json:"color"`
	ChatwootLabel *string    `json:"chatwoot_label"`
	Position      int        `json:"position"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Label returns the external label mirrored for this stage.
func (s *Stage) Label() string {
	if s.ChatwootLabel != nil && *s.ChatwootLabel != "" {
		return *s.ChatwootLabel
	}
	return LabelFromName(s.Name)
}

type StageTemplate struct {
	Name  string
	Color string
	Label string
}

// DefaultStages are inserted, in order, by InitializeDefaults.
var DefaultStages = []StageTemplate{
	{Name: "Novo Lead", Color: "#3B82F6", Label: "lead_novo"},
	{Name: "Em Contato", Color: "#F59E0B", Label: "em_contato"},
	{Name: "Proposta Enviada", Color: "#8B5CF6", Label: "proposta_enviada"},
	{Name: "Negociação", Color: "#EC4899", Label: "negociacao"},
	{Name: "Fechado Ganho", Color: "#10B981", Label: "fechado_ganho"},
	{Name: "Perdido", Color: "#EF4444", Label: "perdido"},
}

var PresetColors = []string{
	"#3B82F6", // blue
	"#10B981", // emerald
	"#F59E0B", // amber
	"#EF4444", // red
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#06B6D4", // cyan
	"#84CC16", // lime
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// LabelFromName derives the external label for a stage name: lower-cased,
// whitespace runs joined with underscores. Accents are kept.
func LabelFromName(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(name), "_")
}
