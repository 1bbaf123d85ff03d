package services

import (
	"testing"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/stretchr/testify/assert"
)

func TestCalculateMetrics_Empty(t *testing.T) {
	m := CalculateMetrics(nil, FixedTime)
	assert.Equal(t, 0, m.TotalCAPAs)
	assert.Equal(t, 0, m.OpenCAPAs)
	assert.Equal(t, 0.0, m.AverageCompletionTime)
	assert.Equal(t, 0.0, m.EffectivenessRate)
	assert.NotNil(t, m.ByPriority)
	assert.NotNil(t, m.ByStatus)
	assert.NotNil(t, m.ByFramework)
}

func TestCalculateMetrics_MixedWorkflows(t *testing.T) {
	workflows := []model.CAPAWorkflow{
		{
			ID:        "open-overdue",
			Priority:  model.PriorityHigh,
			Status:    model.CAPAStatusInProgress,
			Framework: "ISO 13485",
			DueDate:   FixedTime.Add(-days(2)),
			CreatedAt: FixedTime.Add(-days(40)),
		},
		{
			ID:            "completed-confirmed",
			Priority:      model.PriorityMedium,
			Status:        model.CAPAStatusCompleted,
			Framework:     "ISO 13485",
			DueDate:       FixedTime.Add(-days(10)),
			CreatedAt:     FixedTime.Add(-days(30)),
			CompletedDate: timePtr(FixedTime.Add(-days(20))),
			VerificationPlan: model.VerificationPlan{
				EffectivenessConfirmed: true,
			},
		},
		{
			ID:            "closed-unconfirmed",
			Priority:      model.PriorityLow,
			Status:        model.CAPAStatusClosed,
			DueDate:       FixedTime.Add(-days(100)),
			CreatedAt:     FixedTime.Add(-days(120)),
			CompletedDate: timePtr(FixedTime.Add(-days(100))),
		},
	}

	m := CalculateMetrics(workflows, FixedTime)

	assert.Equal(t, 3, m.TotalCAPAs)
	assert.Equal(t, 1, m.OpenCAPAs)
	assert.Equal(t, 1, m.OverdueCAPAs)
	assert.Equal(t, 1, m.CompletedThisMonth)
	// (10 + 20) / 2
	assert.Equal(t, 15.0, m.AverageCompletionTime)
	assert.Equal(t, 50.0, m.EffectivenessRate)
	assert.Equal(t, map[string]int{"high": 1, "medium": 1, "low": 1}, m.ByPriority)
	assert.Equal(t, map[string]int{"ISO 13485": 2, "General": 1}, m.ByFramework)
	assert.Equal(t, 1, m.ByStatus["closed"])
}

func TestCalculateMetrics_ClosedAndCompletedNeverOpen(t *testing.T) {
	past := FixedTime.Add(-days(5))
	workflows := []model.CAPAWorkflow{
		{Status: model.CAPAStatusCompleted, DueDate: past, CreatedAt: past},
		{Status: model.CAPAStatusClosed, DueDate: past, CreatedAt: past},
	}
	m := CalculateMetrics(workflows, FixedTime)
	assert.Equal(t, 0, m.OpenCAPAs)
	assert.Equal(t, 0, m.OverdueCAPAs)
	// No completion dates recorded.
	assert.Equal(t, 0.0, m.EffectivenessRate)
}

func TestCalculateMetrics_CompletedThisMonthWindow(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		want      int
	}{
		{"yesterday", 1, 1},
		{"thirty days ago", 30, 1},
		{"thirty one days ago", 31, 0},
		{"in the future", -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := model.CAPAWorkflow{
				Status:        model.CAPAStatusCompleted,
				CreatedAt:     FixedTime.Add(-days(60)),
				CompletedDate: timePtr(FixedTime.Add(-days(tt.completed))),
			}
			assert.Equal(t, tt.want, CalculateMetrics([]model.CAPAWorkflow{wf}, FixedTime).CompletedThisMonth)
		})
	}
}
