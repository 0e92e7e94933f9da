package chatwoot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPhoneE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(11) 98765-4321", "+5511987654321", true},
		{"1133334444", "+551133334444", true},
		{"+1 (415) 555-0100", "+14155550100", true},
		{"5511987654321", "+5511987654321", true},
		{"98765-4321", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := FormatPhoneE164(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestLabelColor(t *testing.T) {
	assert.Equal(t, "3B82F6", LabelColor("#3b82f6"))
	assert.Equal(t, "10B981", LabelColor("10B981"))
	assert.Equal(t, "3B82F6", LabelColor("#000000"))
	assert.Equal(t, "3B82F6", LabelColor("red"))
	assert.Equal(t, "3B82F6", LabelColor(""))
}

func TestPlanLabelSwap(t *testing.T) {
	stageLabels := map[string]bool{"lead_novo": true, "negociacao": true, "perdido": true}

	plan := planLabelSwap([]string{"Negociação", "vip", "lead_novo"}, stageLabels, "perdido")
	assert.Equal(t, []string{"Negociação", "lead_novo"}, plan.Remove)
	assert.Equal(t, []string{"vip"}, plan.Keep)
	assert.False(t, plan.HasNew)

	plan = planLabelSwap([]string{"negociacao", "urgente"}, stageLabels, "Negociação")
	assert.Empty(t, plan.Remove)
	assert.True(t, plan.HasNew)
}
