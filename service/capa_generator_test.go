package services

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		severity model.Severity
		days     int
		priority model.Priority
	}{
		{model.SeverityCritical, 7, model.PriorityUrgent},
		{model.SeverityMajor, 30, model.PriorityHigh},
		{model.SeverityMinor, 90, model.PriorityMedium},
		{model.SeverityObservation, 60, model.PriorityLow},
		{model.Severity("bogus"), 60, model.PriorityLow},
		{model.Severity(""), 60, model.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.days, DueDateOffsetDays(tt.severity))
			assert.Equal(t, tt.priority, MapSeverityToPriority(tt.severity))
		})
	}
}

func newTestGenerator(gen TextGenerator) *CAPAGenerator {
	g := NewCAPAGenerator(gen)
	g.now = fixedClock
	return g
}

func TestGenerateFromGap_FallbackWhenDisabled(t *testing.T) {
	g := newTestGenerator(DisabledGenerator{})
	gap := model.ComplianceGap{
		ID:              "gap-1",
		Requirement:     "Design Control Review",
		Description:     "Design reviews are not documented",
		Framework:       "ISO 13485",
		Severity:        model.SeverityCritical,
		Recommendations: []string{"Document design review procedure", "Train engineering staff", "Audit last 3 reviews"},
	}

	wf, err := g.GenerateFromGap(context.Background(), gap)
	require.NoError(t, err)

	assert.Equal(t, model.PriorityUrgent, wf.Priority)
	assert.Equal(t, model.CAPAStatusDraft, wf.Status)
	assert.True(t, wf.DueDate.Equal(FixedTime.AddDate(0, 0, 7)))
	require.Len(t, wf.CorrectiveActions, 3)
	for i, rec := range gap.Recommendations {
		assert.Equal(t, rec, wf.CorrectiveActions[i].Description)
		assert.True(t, wf.CorrectiveActions[i].DueDate.Equal(wf.DueDate))
		assert.Equal(t, model.ActionStatusNotStarted, wf.CorrectiveActions[i].Status)
	}
	require.Len(t, wf.PreventiveActions, 1)
	assert.Empty(t, wf.ImmediateActions)
	assert.Equal(t, []string{"gap-1"}, wf.LinkedGaps)
	assert.Contains(t, wf.ProblemStatement, "Design Control Review")
	assert.NotEmpty(t, wf.RootCause)
	assert.True(t, wf.VerificationPlan.DueDate.Equal(wf.DueDate.AddDate(0, 0, 30)))
	assert.Equal(t, "CAPA: Design Control Review", wf.Title)
}

func TestGenerateFromGap_UsesGeneratedPlan(t *testing.T) {
	response := "```json\n" + `{
		"problemStatement": "Design reviews are undocumented",
		"rootCause": "No procedure defines review records",
		"immediateActions": [{"description": "Quarantine unreviewed designs"}],
		"correctiveActions": [{"description": "Write SOP-12", "assignedTo": "QA lead"}],
		"preventiveActions": [{"description": "Quarterly design audit", "evidenceRequired": true}],
		"verificationPlan": {"method": "Audit", "successCriteria": "All reviews recorded", "responsible": "QA"}
	}` + "\n```"

	gen := new(MockGenerator)
	gen.On("Generate", mock.AnythingOfType("string"), true).Return(response, nil)
	g := newTestGenerator(gen)

	wf, err := g.GenerateFromGap(context.Background(), model.ComplianceGap{
		Requirement: "Design Control Review",
		Severity:    model.SeverityMajor,
	})
	require.NoError(t, err)
	gen.AssertExpectations(t)

	assert.Equal(t, model.PriorityHigh, wf.Priority)
	assert.Equal(t, "Design reviews are undocumented", wf.ProblemStatement)
	require.Len(t, wf.ImmediateActions, 1)
	assert.True(t, wf.ImmediateActions[0].DueDate.Equal(FixedTime.AddDate(0, 0, 3)))
	assert.True(t, wf.ImmediateActions[0].EvidenceRequired)
	assert.Equal(t, "QA lead", wf.CorrectiveActions[0].AssignedTo)
	assert.True(t, wf.PreventiveActions[0].EvidenceRequired)
	assert.Equal(t, "Audit", wf.VerificationPlan.Method)
}

func TestGenerateFromGap_RejectsMalformedOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{name: "generator error", err: errors.New("timeout")},
		{name: "not json", response: "Sure! Here is your plan."},
		{name: "missing root cause", response: `{"problemStatement":"p","correctiveActions":[{"description":"c"}],"preventiveActions":[{"description":"p"}]}`},
		{name: "no preventive actions", response: `{"problemStatement":"p","rootCause":"r","correctiveActions":[{"description":"c"}],"preventiveActions":[]}`},
		{name: "blank action", response: `{"problemStatement":"p","rootCause":"r","correctiveActions":[{"description":"  "}],"preventiveActions":[{"description":"p"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(MockGenerator)
			gen.On("Generate", mock.Anything, true).Return(tt.response, tt.err)
			g := newTestGenerator(gen)

			wf, err := g.GenerateFromGap(context.Background(), model.ComplianceGap{
				Requirement:     "Training records",
				Severity:        model.SeverityMinor,
				Recommendations: []string{"Backfill records"},
			})
			require.NoError(t, err)
			require.Len(t, wf.CorrectiveActions, 1)
			assert.Equal(t, "Backfill records", wf.CorrectiveActions[0].Description)
			assert.True(t, wf.DueDate.Equal(FixedTime.AddDate(0, 0, 90)))
		})
	}
}

func TestGenerateFromGap_RequiresRequirement(t *testing.T) {
	g := newTestGenerator(DisabledGenerator{})
	_, err := g.GenerateFromGap(context.Background(), model.ComplianceGap{Severity: model.SeverityMajor})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGenerateFromFinding_Fallback(t *testing.T) {
	g := newTestGenerator(DisabledGenerator{})
	wf, err := g.GenerateFromFinding(context.Background(), model.ComplianceFinding{
		ID:          "f-9",
		Title:       "Uncalibrated torque driver",
		Description: "Torque driver TD-4 was past its calibration date",
		Severity:    model.SeverityMajor,
		Citation:    "21 CFR 820.72",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, wf.Priority)
	assert.True(t, wf.DueDate.Equal(FixedTime.AddDate(0, 0, 30)))
	assert.Equal(t, []string{"f-9"}, wf.LinkedFindings)
	require.Len(t, wf.CorrectiveActions, 1)
	assert.Contains(t, wf.CorrectiveActions[0].Description, "Uncalibrated torque driver")
	assert.Contains(t, wf.CorrectiveActions[0].Description, "21 CFR 820.72")
	assert.Len(t, wf.PreventiveActions, 1)

	_, err = g.GenerateFromFinding(context.Background(), model.ComplianceFinding{Severity: model.SeverityMinor})
	assert.ErrorIs(t, err, ErrValidation)
}

func optimizableWorkflow() model.CAPAWorkflow {
	due := FixedTime.AddDate(0, 0, 30)
	return model.CAPAWorkflow{
		ID:      "wf-1",
		Title:   "CAPA: Labeling",
		DueDate: due,
		CorrectiveActions: []model.CAPAAction{
			{ID: "c1", Description: "Fix labels", DueDate: due, Status: model.ActionStatusInProgress},
		},
		PreventiveActions: []model.CAPAAction{
			{ID: "p1", Description: "Train staff", DueDate: due, Status: model.ActionStatusNotStarted},
		},
		VerificationPlan: model.VerificationPlan{Method: "Audit", SuccessCriteria: "No mislabels", Responsible: "QA", DueDate: due.AddDate(0, 0, 30)},
	}
}

func TestOptimizeWorkflow(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		err        error
		assertions func(t *testing.T, p model.CAPAWorkflowPatch)
	}{
		{
			name: "generator failure yields empty patch",
			err:  errors.New("boom"),
			assertions: func(t *testing.T, p model.CAPAWorkflowPatch) {
				assert.True(t, p.IsEmpty())
			},
		},
		{
			name:     "invalid json yields empty patch",
			response: `{"correctiveActions": [`,
			assertions: func(t *testing.T, p model.CAPAWorkflowPatch) {
				assert.True(t, p.IsEmpty())
			},
		},
		{
			name:     "unchanged fields are omitted",
			response: `{"correctiveActions":[{"description":"Fix labels"}],"verificationPlan":{"method":"Audit","successCriteria":"No mislabels"}}`,
			assertions: func(t *testing.T, p model.CAPAWorkflowPatch) {
				assert.True(t, p.IsEmpty())
			},
		},
		{
			name:     "changed corrective list keeps existing actions",
			response: `{"correctiveActions":[{"description":"Fix labels"},{"description":"Add label verification step"}]}`,
			assertions: func(t *testing.T, p model.CAPAWorkflowPatch) {
				require.Len(t, p.CorrectiveActions, 2)
				assert.Equal(t, "c1", p.CorrectiveActions[0].ID)
				assert.Equal(t, model.ActionStatusInProgress, p.CorrectiveActions[0].Status)
				assert.Equal(t, "", p.CorrectiveActions[1].ID)
				assert.Equal(t, model.ActionStatusNotStarted, p.CorrectiveActions[1].Status)
				assert.Nil(t, p.PreventiveActions)
				assert.Nil(t, p.VerificationPlan)
			},
		},
		{
			name:     "changed verification plan keeps due date",
			response: `{"verificationPlan":{"method":"Sampling of 50 labels","successCriteria":"Zero defects"}}`,
			assertions: func(t *testing.T, p model.CAPAWorkflowPatch) {
				require.NotNil(t, p.VerificationPlan)
				assert.Equal(t, "Sampling of 50 labels", p.VerificationPlan.Method)
				assert.Equal(t, "QA", p.VerificationPlan.Responsible)
				assert.True(t, p.VerificationPlan.DueDate.Equal(FixedTime.AddDate(0, 0, 60)))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(MockGenerator)
			gen.On("Generate", mock.Anything, true).Return(tt.response, tt.err)
			g := newTestGenerator(gen)
			tt.assertions(t, g.OptimizeWorkflow(context.Background(), optimizableWorkflow()))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
}

func TestImmediateActionsCappedAtWorkflowDueDate(t *testing.T) {
	wf := model.CAPAWorkflow{DueDate: FixedTime.Add(36 * time.Hour)}
	applyGenerated(&wf, generatedCAPA{
		ProblemStatement:  "p",
		RootCause:         "r",
		ImmediateActions:  []generatedAction{{Description: "contain"}},
		CorrectiveActions: []generatedAction{{Description: "fix"}},
		PreventiveActions: []generatedAction{{Description: "prevent"}},
	}, FixedTime)
	assert.True(t, wf.ImmediateActions[0].DueDate.Equal(wf.DueDate))
}
