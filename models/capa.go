package models

import "time"

// CAPAStatus is the lifecycle state of a corrective/preventive action record.
type CAPAStatus string

const (
	CAPAStatusDraft           CAPAStatus = "draft"
	CAPAStatusPendingApproval CAPAStatus = "pending_approval"
	CAPAStatusApproved        CAPAStatus = "approved"
	CAPAStatusInProgress      CAPAStatus = "in_progress"
	CAPAStatusUnderReview     CAPAStatus = "under_review"
	CAPAStatusCompleted       CAPAStatus = "completed"
	CAPAStatusClosed          CAPAStatus = "closed"
)

// CAPAStatusOrder lists the workflow states in the only order they may be entered.
var CAPAStatusOrder = []CAPAStatus{
	CAPAStatusDraft,
	CAPAStatusPendingApproval,
	CAPAStatusApproved,
	CAPAStatusInProgress,
	CAPAStatusUnderReview,
	CAPAStatusCompleted,
	CAPAStatusClosed,
}

// Rank returns the position of s in CAPAStatusOrder, or -1 if s is unknown.
func (s CAPAStatus) Rank() int {
	for i, st := range CAPAStatusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsOpen reports whether a workflow in this state still counts as open work.
func (s CAPAStatus) IsOpen() bool {
	return s != CAPAStatusCompleted && s != CAPAStatusClosed
}

// Priority of a CAPA workflow.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Severity of a compliance gap or audit finding.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityMajor       Severity = "major"
	SeverityMinor       Severity = "minor"
	SeverityObservation Severity = "observation"
)

// ActionStatus is the state of a single CAPA action.
type ActionStatus string

const (
	ActionStatusNotStarted ActionStatus = "not_started"
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusOverdue    ActionStatus = "overdue"
)

// ActionKind names the list an action belongs to.
type ActionKind string

const (
	ActionKindImmediate  ActionKind = "immediate"
	ActionKindCorrective ActionKind = "corrective"
	ActionKindPreventive ActionKind = "preventive"
)

// CAPAAction is a unit of work inside a workflow.
type CAPAAction struct {
	ID               string       `json:"id"`
	Description      string       `json:"description"`
	AssignedTo       string       `json:"assignedTo"`
	DueDate          time.Time    `json:"dueDate"`
	Status           ActionStatus `json:"status"`
	CompletedDate    *time.Time   `json:"completedDate,omitempty"`
	Evidence         string       `json:"evidence,omitempty"`
	EvidenceRequired bool         `json:"evidenceRequired"`
}

// VerificationPlan describes how the effectiveness of a completed CAPA is checked.
type VerificationPlan struct {
	Method                 string    `json:"method"`
	SuccessCriteria        string    `json:"successCriteria"`
	Responsible            string    `json:"responsible"`
	DueDate                time.Time `json:"dueDate"`
	EffectivenessConfirmed bool      `json:"effectivenessConfirmed"`
}

// StatusChange records one workflow transition.
type StatusChange struct {
	From  CAPAStatus `json:"from"`
	To    CAPAStatus `json:"to"`
	Actor string     `json:"actor"`
	At    time.Time  `json:"at"`
}

// CAPAWorkflow is a corrective/preventive action record.
type CAPAWorkflow struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Framework         string           `json:"framework"`
	Priority          Priority         `json:"priority"`
	Status            CAPAStatus       `json:"status"`
	InitiatedBy       string           `json:"initiatedBy"`
	AssignedTo        string           `json:"assignedTo"`
	ApprovedBy        string           `json:"approvedBy,omitempty"`
	DueDate           time.Time        `json:"dueDate"`
	CompletedDate     *time.Time       `json:"completedDate,omitempty"`
	ProblemStatement  string           `json:"problemStatement"`
	RootCause         string           `json:"rootCause"`
	ImmediateActions  []CAPAAction     `json:"immediateActions"`
	CorrectiveActions []CAPAAction     `json:"correctiveActions"`
	PreventiveActions []CAPAAction     `json:"preventiveActions"`
	VerificationPlan  VerificationPlan `json:"verificationPlan"`
	LinkedGaps        []string         `json:"linkedGaps"`
	LinkedFindings    []string         `json:"linkedFindings"`
	Attachments       []string         `json:"attachments"`
	History           []StatusChange   `json:"history,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// ActionList returns a pointer to the action list of the given kind.
func (w *CAPAWorkflow) ActionList(kind ActionKind) *[]CAPAAction {
	switch kind {
	case ActionKindImmediate:
		return &w.ImmediateActions
	case ActionKindCorrective:
		return &w.CorrectiveActions
	case ActionKindPreventive:
		return &w.PreventiveActions
	}
	return nil
}

// FindAction locates an action by id across the three lists.
func (w *CAPAWorkflow) FindAction(actionID string) (*CAPAAction, ActionKind, bool) {
	for _, kind := range []ActionKind{ActionKindImmediate, ActionKindCorrective, ActionKindPreventive} {
		list := w.ActionList(kind)
		for i := range *list {
			if (*list)[i].ID == actionID {
				return &(*list)[i], kind, true
			}
		}
	}
	return nil, "", false
}

// CAPAWorkflowPatch carries only the fields an optimization changed.
// Nil fields are unchanged.
type CAPAWorkflowPatch struct {
	CorrectiveActions []CAPAAction      `json:"correctiveActions,omitempty"`
	PreventiveActions []CAPAAction      `json:"preventiveActions,omitempty"`
	VerificationPlan  *VerificationPlan `json:"verificationPlan,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p CAPAWorkflowPatch) IsEmpty() bool {
	return p.CorrectiveActions == nil && p.PreventiveActions == nil && p.VerificationPlan == nil
}

// CAPAMetrics summarizes a workflow collection.
type CAPAMetrics struct {
	TotalCAPAs            int            `json:"totalCAPAs"`
	OpenCAPAs             int            `json:"openCAPAs"`
	OverdueCAPAs          int            `json:"overdueCAPAs"`
	CompletedThisMonth    int            `json:"completedThisMonth"`
	AverageCompletionTime float64        `json:"averageCompletionTime"`
	EffectivenessRate     float64        `json:"effectivenessRate"`
	ByPriority            map[string]int `json:"byPriority"`
	ByStatus              map[string]int `json:"byStatus"`
	ByFramework           map[string]int `json:"byFramework"`
}
