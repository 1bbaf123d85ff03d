package services

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/google/uuid"
)

// Trigger types recorded on email events.
const (
	TriggerRegulatoryUpdate = "regulatory_update"
	TriggerComplianceAlert  = "compliance_alert"
	TriggerWeeklyDigest     = "weekly_digest"
)

// Trigger is the common view of a payload that can cause email.
type Trigger struct {
	Type            string
	ID              string
	Title           string
	Description     string
	Framework       string
	Priority        string
	Severity        string
	EffectiveDate   *time.Time
	DueDate         *time.Time
	Recommendations []string
	// Extra holds additional {{name}} values, e.g. digest figures.
	Extra map[string]string
}

func TriggerFromUpdate(u model.RegulatoryUpdate) Trigger {
	return Trigger{
		Type:            TriggerRegulatoryUpdate,
		ID:              u.ID,
		Title:           u.Title,
		Description:     u.Description,
		Framework:       u.Framework,
		Priority:        u.Priority,
		Severity:        u.Severity,
		EffectiveDate:   u.EffectiveDate,
		DueDate:         u.EffectiveDate,
		Recommendations: u.Recommendations,
	}
}

func TriggerFromAlert(a model.ComplianceAlert) Trigger {
	return Trigger{
		Type:            TriggerComplianceAlert,
		ID:              a.ID,
		Title:           a.Title,
		Description:     a.Description,
		Framework:       a.Framework,
		Priority:        a.Priority,
		Severity:        a.Severity,
		DueDate:         a.DueDate,
		Recommendations: a.Recommendations,
	}
}

// categoryFor returns the only template category a trigger type may reach.
func categoryFor(triggerType string) string {
	switch triggerType {
	case TriggerRegulatoryUpdate:
		return model.CategoryRegulatoryUpdates
	case TriggerComplianceAlert:
		return model.CategoryComplianceAlerts
	case TriggerWeeklyDigest:
		return model.CategoryWeeklyDigest
	}
	return ""
}

// ProcessRegulatoryUpdate materializes the email events a regulatory update causes.
func ProcessRegulatoryUpdate(update model.RegulatoryUpdate, templates []model.EmailTemplate, schedules []model.EmailSchedule, now time.Time) []model.EmailEvent {
	return processTrigger(TriggerFromUpdate(update), templates, schedules, now)
}

// ProcessComplianceAlert materializes the email events a compliance alert causes.
func ProcessComplianceAlert(alert model.ComplianceAlert, templates []model.EmailTemplate, schedules []model.EmailSchedule, now time.Time) []model.EmailEvent {
	return processTrigger(TriggerFromAlert(alert), templates, schedules, now)
}

func processTrigger(t Trigger, templates []model.EmailTemplate, schedules []model.EmailSchedule, now time.Time) []model.EmailEvent {
	byID := make(map[string]model.EmailTemplate, len(templates))
	for _, tpl := range templates {
		byID[tpl.ID] = tpl
	}
	category := categoryFor(t.Type)

	events := []model.EmailEvent{}
	for _, schedule := range schedules {
		tpl, ok := byID[schedule.TemplateID]
		if !ok || !tpl.Active || !schedule.Active || tpl.Category != category {
			continue
		}
		if !conditionsMatch(schedule.Conditions, t, now) {
			continue
		}
		event, ok := buildEvent(schedule, tpl, t, now)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	log.Printf("[processTrigger] %s %q produced %d email events", t.Type, t.Title, len(events))
	return events
}

// buildEvent returns false when no recipient is eligible or the schedule cadence is invalid.
func buildEvent(schedule model.EmailSchedule, tpl model.EmailTemplate, t Trigger, now time.Time) (model.EmailEvent, bool) {
	recipients := EligibleRecipients(schedule.Recipients, tpl.Category)
	if len(recipients) == 0 {
		return model.EmailEvent{}, false
	}
	scheduledAt, err := NextScheduledAt(schedule, now)
	if err != nil {
		log.Printf("[buildEvent] Skipping schedule %s: %v", schedule.ID, err)
		return model.EmailEvent{}, false
	}
	return model.EmailEvent{
		ID:          uuid.NewString(),
		ScheduleID:  schedule.ID,
		TemplateID:  tpl.ID,
		Recipients:  recipients,
		Subject:     SubstituteVariables(tpl.Subject, t, now),
		Body:        SubstituteVariables(tpl.Body, t, now),
		TriggerType: t.Type,
		TriggerID:   t.ID,
		ScheduledAt: scheduledAt,
		Status:      model.EmailEventScheduled,
		CreatedAt:   now,
	}, true
}

// EligibleRecipients returns the addresses of active recipients opted in to category.
func EligibleRecipients(recipients []model.EmailRecipient, category string) []string {
	out := []string{}
	for _, r := range recipients {
		if r.Active && r.Preferences.Allows(category) {
			out = append(out, r.Email)
		}
	}
	return out
}

// conditionsMatch reports whether every condition holds for t.
func conditionsMatch(conditions []model.ScheduleCondition, t Trigger, now time.Time) bool {
	for _, c := range conditions {
		if !conditionMatches(c, t, now) {
			return false
		}
	}
	return true
}

func conditionMatches(c model.ScheduleCondition, t Trigger, now time.Time) bool {
	value := strings.TrimSpace(c.Value)
	if strings.EqualFold(value, model.ConditionValueAll) {
		return true
	}
	switch c.Type {
	case model.ConditionFrameworkUpdate:
		return strings.EqualFold(value, t.Framework)
	case model.ConditionAlertSeverity:
		return strings.EqualFold(value, t.Severity)
	case model.ConditionGapPriority:
		return strings.EqualFold(value, t.Priority)
	case model.ConditionAuditDue:
		days, err := strconv.Atoi(value)
		if err != nil || t.DueDate == nil {
			return false
		}
		return !t.DueDate.Before(now) && !t.DueDate.After(now.AddDate(0, 0, days))
	}
	log.Printf("[conditionMatches] Unknown condition type %q", c.Type)
	return false
}

// SubstituteVariables replaces the known {{placeholders}}. Unknown tokens are left as is.
func SubstituteVariables(text string, t Trigger, now time.Time) string {
	priority := firstNonEmpty(t.Priority, t.Severity, "medium")
	effective := "TBD"
	if t.EffectiveDate != nil {
		effective = t.EffectiveDate.Format("2006-01-02")
	}
	recommendations := "None provided"
	if len(t.Recommendations) > 0 {
		recommendations = strings.Join(t.Recommendations, "; ")
	}

	pairs := []string{
		"{{date}}", now.Format("2006-01-02"),
		"{{time}}", now.Format("15:04"),
		"{{datetime}}", now.Format("2006-01-02 15:04"),
		"{{title}}", t.Title,
		"{{description}}", t.Description,
		"{{priority}}", priority,
		"{{framework}}", firstNonEmpty(t.Framework, "General"),
		"{{effective_date}}", effective,
		"{{recommendations}}", recommendations,
	}
	for name, value := range t.Extra {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DeliveryStatistics counts delivery outcomes per template, busiest first.
// Sent counts every attempt (sent or failed); Delivered counts successful ones.
func DeliveryStatistics(events []model.EmailEvent, templates []model.EmailTemplate) []model.TemplateDeliveryStats {
	names := make(map[string]string, len(templates))
	for _, tpl := range templates {
		names[tpl.ID] = tpl.Name
	}

	byTemplate := map[string]*model.TemplateDeliveryStats{}
	for _, e := range events {
		if e.Status != model.EmailEventSent && e.Status != model.EmailEventFailed {
			continue
		}
		st, ok := byTemplate[e.TemplateID]
		if !ok {
			name := names[e.TemplateID]
			if name == "" {
				name = fmt.Sprintf("Unknown template (%s)", e.TemplateID)
			}
			st = &model.TemplateDeliveryStats{TemplateID: e.TemplateID, TemplateName: name}
			byTemplate[e.TemplateID] = st
		}
		st.Sent++
		if e.Status == model.EmailEventSent {
			st.Delivered++
		} else {
			st.Failed++
		}
	}

	out := make([]model.TemplateDeliveryStats, 0, len(byTemplate))
	for _, st := range byTemplate {
		if st.Sent > 0 {
			st.DeliveryRate = round1(float64(st.Delivered) / float64(st.Sent) * 100)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sent != out[j].Sent {
			return out[i].Sent > out[j].Sent
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out
}
