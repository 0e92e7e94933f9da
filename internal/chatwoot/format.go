package chatwoot

import (
	"regexp"
	"strings"

	"crmsync/internal/models"
)

const defaultLabelColor = "3B82F6"

var hexColor = regexp.MustCompile(`^[0-9A-F]{6}$`)

// FormatPhoneE164 returns phone in E.164 form. Numbers written with a
// leading + keep their country code; 10 or 11 digits are Brazilian; 12 or
// more digits already carry one. Anything else cannot be formatted.
func FormatPhoneE164(phone string) (string, bool) {
	phone = strings.TrimSpace(phone)
	digits := models.PhoneDigits(phone)
	if digits == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(phone, "+"):
		return "+" + digits, true
	case len(digits) == 10 || len(digits) == 11:
		return "+55" + digits, true
	case len(digits) >= 12:
		return "+" + digits, true
	default:
		return "", false
	}
}

// LabelColor turns a stage color into the six hex digits Chatwoot expects.
// Invalid colors and black fall back to blue.
func LabelColor(color string) string {
	c := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(color), "#", ""))
	if !hexColor.MatchString(c) || c == "000000" {
		return defaultLabelColor
	}
	return c
}

func updateNote(title string, value float64, stage string) string {
	if stage == "" {
		stage = "Desconhecido"
	}
	return "🚀 [CRM] Negócio Atualizado\n📋 Título: " + title + "\n💰 Valor: " + models.FormatBRL(value) + "\n📊 Etapa: " + stage
}

func removalNote(title string) string {
	if title == "" {
		title = "Sem título"
	}
	return "🗑️ [CRM] Negócio Removido\n📋 Título: " + title
}

// labelPlan is the edit that moves a conversation to a new stage label.
type labelPlan struct {
	Remove []string // exact labels as Chatwoot spells them
	Keep   []string
	HasNew bool
}

// planLabelSwap removes every stage label except newLabel and keeps labels
// that are not stage labels. stageLabels holds normalized stage labels.
func planLabelSwap(current []string, stageLabels map[string]bool, newLabel string) labelPlan {
	var plan labelPlan
	target := models.NormalizeLabel(newLabel)
	for _, l := range current {
		n := models.NormalizeLabel(l)
		switch {
		case n == target:
			plan.HasNew = true
			plan.Keep = append(plan.Keep, l)
		case stageLabels[n]:
			plan.Remove = append(plan.Remove, l)
		default:
			plan.Keep = append(plan.Keep, l)
		}
	}
	return plan
}
