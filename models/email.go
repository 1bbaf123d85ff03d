package models

import "time"

// Template categories. A recipient opts in per category.
const (
	CategoryRegulatoryUpdates = "regulatory_updates"
	CategoryComplianceAlerts  = "compliance_alerts"
	CategoryAuditReminders    = "audit_reminders"
	CategoryWeeklyDigest      = "weekly_digest"
	CategoryCAPAUpdates       = "capa_updates"
)

// EmailTemplate holds {{variable}} placeholders in Subject and Body.
type EmailTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" binding:"required"`
	Subject   string    `json:"subject" binding:"required"`
	Body      string    `json:"body" binding:"required"`
	Category  string    `json:"category" binding:"required"`
	Variables []string  `json:"variables,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecipientPreferences are per-category opt-in flags.
type RecipientPreferences struct {
	RegulatoryUpdates bool `json:"regulatoryUpdates"`
	ComplianceAlerts  bool `json:"complianceAlerts"`
	AuditReminders    bool `json:"auditReminders"`
	WeeklyDigest      bool `json:"weeklyDigest"`
	CAPAUpdates       bool `json:"capaUpdates"`
}

// Allows reports whether the recipient opted in to category. Unknown categories are refused.
func (p RecipientPreferences) Allows(category string) bool {
	switch category {
	case CategoryRegulatoryUpdates:
		return p.RegulatoryUpdates
	case CategoryComplianceAlerts:
		return p.ComplianceAlerts
	case CategoryAuditReminders:
		return p.AuditReminders
	case CategoryWeeklyDigest:
		return p.WeeklyDigest
	case CategoryCAPAUpdates:
		return p.CAPAUpdates
	}
	return false
}

// EmailRecipient is an address with its delivery preferences.
type EmailRecipient struct {
	ID          string               `json:"id"`
	Email       string               `json:"email" binding:"required,email"`
	Name        string               `json:"name"`
	Role        string               `json:"role,omitempty"`
	Active      bool                 `json:"active"`
	Preferences RecipientPreferences `json:"preferences"`
}

// Email cadences.
const (
	FrequencyImmediate = "immediate"
	FrequencyHourly    = "hourly"
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
)

// Condition types evaluated against a triggering payload.
const (
	ConditionFrameworkUpdate = "framework_update"
	ConditionAlertSeverity   = "alert_severity"
	ConditionGapPriority     = "gap_priority"
	ConditionAuditDue        = "audit_due"

	// ConditionValueAll matches every payload.
	ConditionValueAll = "all"
)

// ScheduleCondition is a predicate a trigger must satisfy.
type ScheduleCondition struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EmailSchedule binds a template to recipients, a cadence and conditions.
type EmailSchedule struct {
	ID            string              `json:"id"`
	Name          string              `json:"name" binding:"required"`
	TemplateID    string              `json:"templateId" binding:"required"`
	Recipients    []EmailRecipient    `json:"recipients"`
	Frequency     string              `json:"frequency" binding:"required"`
	Time          string              `json:"time,omitempty"` // HH:MM in UTC
	Conditions    []ScheduleCondition `json:"conditions"`
	Active        bool                `json:"active"`
	LastSent      *time.Time          `json:"lastSent,omitempty"`
	NextScheduled *time.Time          `json:"nextScheduled,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// EmailEventStatus is the state of a materialized send attempt.
type EmailEventStatus string

const (
	EmailEventScheduled EmailEventStatus = "scheduled"
	EmailEventSending   EmailEventStatus = "sending"
	EmailEventSent      EmailEventStatus = "sent"
	EmailEventFailed    EmailEventStatus = "failed"
	EmailEventCancelled EmailEventStatus = "cancelled"
)

// EmailEvent is one materialized send attempt.
type EmailEvent struct {
	ID           string           `json:"id"`
	ScheduleID   string           `json:"scheduleId"`
	TemplateID   string           `json:"templateId"`
	Recipients   []string         `json:"recipients"`
	Subject      string           `json:"subject"`
	Body         string           `json:"body"`
	TriggerType  string           `json:"triggerType"`
	TriggerID    string           `json:"triggerId,omitempty"`
	ScheduledAt  time.Time        `json:"scheduledAt"`
	SentAt       *time.Time       `json:"sentAt,omitempty"`
	Status       EmailEventStatus `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// TemplateDeliveryStats are the delivery counts of one template.
type TemplateDeliveryStats struct {
	TemplateID   string  `json:"templateId"`
	TemplateName string  `json:"templateName"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Failed       int     `json:"failed"`
	DeliveryRate float64 `json:"deliveryRate"`
}
