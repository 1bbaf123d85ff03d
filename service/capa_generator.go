package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
)

const (
	maxActionDescriptionLen = 500
	immediateActionDays     = 3
	verificationLagDays     = 30
)

// DueDateOffsetDays returns the number of days a workflow for severity has until it is due.
func DueDateOffsetDays(severity model.Severity) int {
	switch severity {
	case model.SeverityCritical:
		return 7
	case model.SeverityMajor:
		return 30
	case model.SeverityMinor:
		return 90
	}
	return 60
}

// MapSeverityToPriority maps a gap or finding severity to a workflow priority.
func MapSeverityToPriority(severity model.Severity) model.Priority {
	switch severity {
	case model.SeverityCritical:
		return model.PriorityUrgent
	case model.SeverityMajor:
		return model.PriorityHigh
	case model.SeverityMinor:
		return model.PriorityMedium
	}
	return model.PriorityLow
}

// CAPAGenerator drafts CAPA workflows from gaps and findings. Text generation
// failures never reach the caller; a local template is used instead.
type CAPAGenerator struct {
	gen TextGenerator
	now func() time.Time
}

func NewCAPAGenerator(gen TextGenerator) *CAPAGenerator {
	if gen == nil {
		gen = DisabledGenerator{}
	}
	return &CAPAGenerator{gen: gen, now: time.Now}
}

// generatedAction and generatedCAPA are the JSON shape requested from the model.
type generatedAction struct {
	Description      string `json:"description"`
	AssignedTo       string `json:"assignedTo"`
	EvidenceRequired *bool  `json:"evidenceRequired"`
}

type generatedPlan struct {
	Method          string `json:"method"`
	SuccessCriteria string `json:"successCriteria"`
	Responsible     string `json:"responsible"`
}

type generatedCAPA struct {
	ProblemStatement  string            `json:"problemStatement"`
	RootCause         string            `json:"rootCause"`
	ImmediateActions  []generatedAction `json:"immediateActions"`
	CorrectiveActions []generatedAction `json:"correctiveActions"`
	PreventiveActions []generatedAction `json:"preventiveActions"`
	VerificationPlan  generatedPlan     `json:"verificationPlan"`
}

type generatedPatch struct {
	CorrectiveActions []generatedAction `json:"correctiveActions"`
	PreventiveActions []generatedAction `json:"preventiveActions"`
	VerificationPlan  *generatedPlan    `json:"verificationPlan"`
}

const capaResponseFormat = `Respond with a JSON object of this exact shape:
{
  "problemStatement": "string",
  "rootCause": "string",
  "immediateActions": [{"description": "string", "assignedTo": "string", "evidenceRequired": true}],
  "correctiveActions": [{"description": "string", "assignedTo": "string", "evidenceRequired": true}],
  "preventiveActions": [{"description": "string", "assignedTo": "string", "evidenceRequired": false}],
  "verificationPlan": {"method": "string", "successCriteria": "string", "responsible": "string"}
}
At least one corrective and one preventive action are required. Keep each action description under 500 characters.`

// GenerateFromGap drafts a workflow for a compliance gap. The error is non-nil only for invalid input.
func (g *CAPAGenerator) GenerateFromGap(ctx context.Context, gap model.ComplianceGap) (model.CAPAWorkflow, error) {
	if strings.TrimSpace(gap.Requirement) == "" {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: gap requirement is required", ErrValidation)
	}
	now := g.now()
	wf := draftWorkflow(now, gap.Severity)
	wf.Title = "CAPA: " + gap.Requirement
	wf.Description = gap.Description
	wf.Framework = gap.Framework
	if gap.ID != "" {
		wf.LinkedGaps = []string{gap.ID}
	}

	prompt := fmt.Sprintf(`You are a regulatory compliance expert. Draft a corrective and preventive action (CAPA) plan for this compliance gap.

Requirement: %s
Framework: %s
Section: %s
Severity: %s
Description: %s
Current state: %s
Required state: %s
Recommendations:
%s

%s`, gap.Requirement, gap.Framework, gap.Section, gap.Severity, gap.Description,
		gap.CurrentState, gap.RequiredState, bulletList(gap.Recommendations), capaResponseFormat)

	generated, err := g.generate(ctx, prompt)
	if err != nil {
		log.Printf("[GenerateFromGap] Falling back to local template for %q: %v", gap.Requirement, err)
		generated = fallbackFromGap(gap)
	}
	applyGenerated(&wf, generated, now)
	return wf, nil
}

// GenerateFromFinding drafts a workflow for an audit finding. The error is non-nil only for invalid input.
func (g *CAPAGenerator) GenerateFromFinding(ctx context.Context, finding model.ComplianceFinding) (model.CAPAWorkflow, error) {
	if strings.TrimSpace(finding.Description) == "" {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: finding description is required", ErrValidation)
	}
	now := g.now()
	wf := draftWorkflow(now, finding.Severity)
	title := finding.Title
	if title == "" {
		title = truncate(finding.Description, 80)
	}
	wf.Title = "CAPA: " + title
	wf.Description = finding.Description
	wf.Framework = finding.Framework
	if finding.ID != "" {
		wf.LinkedFindings = []string{finding.ID}
	}

	prompt := fmt.Sprintf(`You are a regulatory compliance expert. Draft a corrective and preventive action (CAPA) plan for this audit finding.

Title: %s
Framework: %s
Severity: %s
Citation: %s
Description: %s
Evidence: %s

%s`, finding.Title, finding.Framework, finding.Severity, finding.Citation,
		finding.Description, finding.Evidence, capaResponseFormat)

	generated, err := g.generate(ctx, prompt)
	if err != nil {
		log.Printf("[GenerateFromFinding] Falling back to local template for %q: %v", title, err)
		generated = fallbackFromFinding(finding)
	}
	applyGenerated(&wf, generated, now)
	return wf, nil
}

// OptimizeWorkflow asks for an improved action plan and returns only the fields
// that changed. Any failure yields an empty patch.
func (g *CAPAGenerator) OptimizeWorkflow(ctx context.Context, wf model.CAPAWorkflow) model.CAPAWorkflowPatch {
	current, err := json.Marshal(map[string]any{
		"title":             wf.Title,
		"problemStatement":  wf.ProblemStatement,
		"rootCause":         wf.RootCause,
		"correctiveActions": actionDescriptions(wf.CorrectiveActions),
		"preventiveActions": actionDescriptions(wf.PreventiveActions),
		"verificationPlan":  wf.VerificationPlan,
	})
	if err != nil {
		log.Printf("[OptimizeWorkflow] Error marshaling workflow %s: %v", wf.ID, err)
		return model.CAPAWorkflowPatch{}
	}

	prompt := fmt.Sprintf(`You are a regulatory compliance expert. Improve this CAPA plan so its actions are specific, measurable and address the root cause.

%s

Respond with a JSON object containing only the fields you changed:
{
  "correctiveActions": [{"description": "string", "assignedTo": "string", "evidenceRequired": true}],
  "preventiveActions": [{"description": "string", "assignedTo": "string", "evidenceRequired": false}],
  "verificationPlan": {"method": "string", "successCriteria": "string", "responsible": "string"}
}
Return {} if nothing should change.`, string(current))

	raw, err := g.gen.Generate(ctx, prompt, true)
	if err != nil {
		log.Printf("[OptimizeWorkflow] Text generation failed for %s: %v", wf.ID, err)
		return model.CAPAWorkflowPatch{}
	}
	patch, err := parseGeneratedPatch(raw)
	if err != nil {
		log.Printf("[OptimizeWorkflow] Rejected optimization for %s: %v", wf.ID, err)
		return model.CAPAWorkflowPatch{}
	}
	return buildPatch(wf, patch)
}

func (g *CAPAGenerator) generate(ctx context.Context, prompt string) (generatedCAPA, error) {
	raw, err := g.gen.Generate(ctx, prompt, true)
	if err != nil {
		return generatedCAPA{}, err
	}
	return parseGeneratedCAPA(raw)
}

// parseGeneratedCAPA strips fences, decodes and validates a generated plan.
func parseGeneratedCAPA(raw string) (generatedCAPA, error) {
	var out generatedCAPA
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return generatedCAPA{}, fmt.Errorf("JSON parse failed: %w", err)
	}
	if strings.TrimSpace(out.ProblemStatement) == "" {
		return generatedCAPA{}, fmt.Errorf("problemStatement is empty")
	}
	if strings.TrimSpace(out.RootCause) == "" {
		return generatedCAPA{}, fmt.Errorf("rootCause is empty")
	}
	if len(out.CorrectiveActions) == 0 {
		return generatedCAPA{}, fmt.Errorf("no corrective actions")
	}
	if len(out.PreventiveActions) == 0 {
		return generatedCAPA{}, fmt.Errorf("no preventive actions")
	}
	for _, list := range []struct {
		name    string
		actions []generatedAction
	}{
		{"immediateActions", out.ImmediateActions},
		{"correctiveActions", out.CorrectiveActions},
		{"preventiveActions", out.PreventiveActions},
	} {
		if err := validateGeneratedActions(list.name, list.actions); err != nil {
			return generatedCAPA{}, err
		}
	}
	return out, nil
}

func parseGeneratedPatch(raw string) (generatedPatch, error) {
	var out generatedPatch
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return generatedPatch{}, fmt.Errorf("JSON parse failed: %w", err)
	}
	if err := validateGeneratedActions("correctiveActions", out.CorrectiveActions); err != nil {
		return generatedPatch{}, err
	}
	if err := validateGeneratedActions("preventiveActions", out.PreventiveActions); err != nil {
		return generatedPatch{}, err
	}
	if p := out.VerificationPlan; p != nil {
		if strings.TrimSpace(p.Method) == "" || strings.TrimSpace(p.SuccessCriteria) == "" {
			return generatedPatch{}, fmt.Errorf("verificationPlan: method and successCriteria are required")
		}
	}
	return out, nil
}

func validateGeneratedActions(name string, actions []generatedAction) error {
	for i, a := range actions {
		desc := strings.TrimSpace(a.Description)
		if desc == "" {
			return fmt.Errorf("%s[%d]: description is empty", name, i)
		}
		if len([]rune(desc)) >= maxActionDescriptionLen {
			return fmt.Errorf("%s[%d]: description exceeds %d characters", name, i, maxActionDescriptionLen)
		}
	}
	return nil
}

func draftWorkflow(now time.Time, severity model.Severity) model.CAPAWorkflow {
	return model.CAPAWorkflow{
		Priority:       MapSeverityToPriority(severity),
		Status:         model.CAPAStatusDraft,
		DueDate:        now.AddDate(0, 0, DueDateOffsetDays(severity)),
		LinkedGaps:     []string{},
		LinkedFindings: []string{},
		Attachments:    []string{},
	}
}

// applyGenerated fills the narrative fields. Dates derive from the workflow due date only.
func applyGenerated(wf *model.CAPAWorkflow, g generatedCAPA, now time.Time) {
	wf.ProblemStatement = strings.TrimSpace(g.ProblemStatement)
	wf.RootCause = strings.TrimSpace(g.RootCause)

	immediateDue := now.AddDate(0, 0, immediateActionDays)
	if immediateDue.After(wf.DueDate) {
		immediateDue = wf.DueDate
	}
	wf.ImmediateActions = toActions(g.ImmediateActions, immediateDue, true)
	wf.CorrectiveActions = toActions(g.CorrectiveActions, wf.DueDate, true)
	wf.PreventiveActions = toActions(g.PreventiveActions, wf.DueDate, false)
	wf.VerificationPlan = model.VerificationPlan{
		Method:          g.VerificationPlan.Method,
		SuccessCriteria: g.VerificationPlan.SuccessCriteria,
		Responsible:     g.VerificationPlan.Responsible,
		DueDate:         wf.DueDate.AddDate(0, 0, verificationLagDays),
	}
}

func toActions(in []generatedAction, due time.Time, evidenceDefault bool) []model.CAPAAction {
	out := make([]model.CAPAAction, 0, len(in))
	for _, a := range in {
		evidence := evidenceDefault
		if a.EvidenceRequired != nil {
			evidence = *a.EvidenceRequired
		}
		out = append(out, model.CAPAAction{
			Description:      strings.TrimSpace(a.Description),
			AssignedTo:       a.AssignedTo,
			DueDate:          due,
			Status:           model.ActionStatusNotStarted,
			EvidenceRequired: evidence,
		})
	}
	return out
}

var genericPreventiveAction = generatedAction{
	Description: "Review and update related procedures, training and monitoring to prevent recurrence",
}

var genericVerificationPlan = generatedPlan{
	Method:          "Effectiveness review of completed actions and follow-up internal audit",
	SuccessCriteria: "No recurrence of the issue during the verification period",
	Responsible:     "Quality Assurance",
}

func fallbackFromGap(gap model.ComplianceGap) generatedCAPA {
	problem := gap.Requirement
	if gap.Description != "" {
		problem = fmt.Sprintf("%s: %s", gap.Requirement, gap.Description)
	}
	rootCause := "Root cause to be determined through investigation of the process gap"
	if gap.CurrentState != "" && gap.RequiredState != "" {
		rootCause = fmt.Sprintf("Current state (%s) does not meet the required state (%s); root cause to be confirmed by investigation",
			gap.CurrentState, gap.RequiredState)
	}

	corrective := make([]generatedAction, 0, len(gap.Recommendations))
	for _, rec := range gap.Recommendations {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		corrective = append(corrective, generatedAction{Description: rec})
	}
	if len(corrective) == 0 {
		corrective = append(corrective, generatedAction{Description: "Address gap: " + gap.Requirement})
	}

	return generatedCAPA{
		ProblemStatement:  problem,
		RootCause:         rootCause,
		CorrectiveActions: corrective,
		PreventiveActions: []generatedAction{genericPreventiveAction},
		VerificationPlan:  genericVerificationPlan,
	}
}

func fallbackFromFinding(finding model.ComplianceFinding) generatedCAPA {
	subject := finding.Title
	if subject == "" {
		subject = truncate(finding.Description, 120)
	}
	corrective := "Correct the nonconformance: " + subject
	if finding.Citation != "" {
		corrective += " (" + finding.Citation + ")"
	}
	return generatedCAPA{
		ProblemStatement:  finding.Description,
		RootCause:         "Root cause to be determined through investigation of the audit finding",
		CorrectiveActions: []generatedAction{{Description: corrective}},
		PreventiveActions: []generatedAction{genericPreventiveAction},
		VerificationPlan:  genericVerificationPlan,
	}
}

// buildPatch keeps only the parts of p that differ from wf. Unchanged actions keep their ids and state.
func buildPatch(wf model.CAPAWorkflow, p generatedPatch) model.CAPAWorkflowPatch {
	var patch model.CAPAWorkflowPatch
	if len(p.CorrectiveActions) > 0 {
		if next := mergeActions(wf.CorrectiveActions, p.CorrectiveActions, wf.DueDate, true); next != nil {
			patch.CorrectiveActions = next
		}
	}
	if len(p.PreventiveActions) > 0 {
		if next := mergeActions(wf.PreventiveActions, p.PreventiveActions, wf.DueDate, false); next != nil {
			patch.PreventiveActions = next
		}
	}
	if v := p.VerificationPlan; v != nil {
		cur := wf.VerificationPlan
		if v.Method != cur.Method || v.SuccessCriteria != cur.SuccessCriteria || (v.Responsible != "" && v.Responsible != cur.Responsible) {
			plan := cur
			plan.Method = v.Method
			plan.SuccessCriteria = v.SuccessCriteria
			if v.Responsible != "" {
				plan.Responsible = v.Responsible
			}
			if plan.DueDate.IsZero() {
				plan.DueDate = wf.DueDate.AddDate(0, 0, verificationLagDays)
			}
			patch.VerificationPlan = &plan
		}
	}
	return patch
}

// mergeActions returns nil when proposed describes the same list as current.
func mergeActions(current []model.CAPAAction, proposed []generatedAction, due time.Time, evidenceDefault bool) []model.CAPAAction {
	byDesc := make(map[string]model.CAPAAction, len(current))
	for _, a := range current {
		byDesc[a.Description] = a
	}
	same := len(current) == len(proposed)
	out := make([]model.CAPAAction, 0, len(proposed))
	for i, p := range proposed {
		desc := strings.TrimSpace(p.Description)
		if same && current[i].Description != desc {
			same = false
		}
		if existing, ok := byDesc[desc]; ok {
			out = append(out, existing)
			continue
		}
		out = append(out, toActions([]generatedAction{p}, due, evidenceDefault)...)
	}
	if same {
		return nil
	}
	return out
}

func actionDescriptions(actions []model.CAPAAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Description)
	}
	return out
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none provided)"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
