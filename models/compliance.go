package models

import "time"

// ComplianceGap is a detected discrepancy between current and required regulatory state.
type ComplianceGap struct {
	ID              string   `json:"id"`
	Requirement     string   `json:"requirement" binding:"required"`
	Description     string   `json:"description"`
	Framework       string   `json:"framework"`
	Section         string   `json:"section,omitempty"`
	Severity        Severity `json:"severity" binding:"required"`
	CurrentState    string   `json:"currentState,omitempty"`
	RequiredState   string   `json:"requiredState,omitempty"`
	Recommendations []string `json:"recommendations"`
}

// ComplianceFinding is an audit-identified compliance issue.
type ComplianceFinding struct {
	ID          string   `json:"id"`
	AuditID     string   `json:"auditId,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description" binding:"required"`
	Framework   string   `json:"framework"`
	Severity    Severity `json:"severity" binding:"required"`
	Citation    string   `json:"citation,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
}

// RegulatoryUpdate is an entry in the regulatory feed.
type RegulatoryUpdate struct {
	ID              string     `json:"id"`
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	Framework       string     `json:"framework"`
	Agency          string     `json:"agency,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	Severity        string     `json:"severity,omitempty"`
	EffectiveDate   *time.Time `json:"effectiveDate,omitempty"`
	PublishedDate   time.Time  `json:"publishedDate"`
	Recommendations []string   `json:"recommendations,omitempty"`
	URL             string     `json:"url,omitempty"`
}

// ComplianceAlert is raised by compliance monitoring.
type ComplianceAlert struct {
	ID              string     `json:"id"`
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	Framework       string     `json:"framework"`
	Severity        string     `json:"severity"`
	Priority        string     `json:"priority,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
