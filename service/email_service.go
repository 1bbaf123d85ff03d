package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
)

const emailSchemaVersion = 1

var placeholderPattern = regexp.MustCompile(`{{\s*([a-z_]+)\s*}}`)

var knownCategories = map[string]bool{
	model.CategoryRegulatoryUpdates: true,
	model.CategoryComplianceAlerts:  true,
	model.CategoryAuditReminders:    true,
	model.CategoryWeeklyDigest:      true,
	model.CategoryCAPAUpdates:       true,
}

var knownFrequencies = map[string]bool{
	model.FrequencyImmediate: true,
	model.FrequencyHourly:    true,
	model.FrequencyDaily:     true,
	model.FrequencyWeekly:    true,
	model.FrequencyMonthly:   true,
}

var knownConditions = map[string]bool{
	model.ConditionFrameworkUpdate: true,
	model.ConditionAlertSeverity:   true,
	model.ConditionGapPriority:     true,
	model.ConditionAuditDue:        true,
}

// EmailService stores the email pipeline and delivers due events.
type EmailService struct {
	templates  *store.Collection[model.EmailTemplate]
	schedules  *store.Collection[model.EmailSchedule]
	recipients *store.Collection[model.EmailRecipient]
	events     *store.Collection[model.EmailEvent]
	sender     Sender
	notifier   Notifier

	// dispatchMu keeps one Dispatch in flight per process so an event is sent once.
	dispatchMu sync.Mutex
	now        func() time.Time
}

func NewEmailService(s store.Store, sender Sender, notifier Notifier) *EmailService {
	if sender == nil {
		sender = LogSender{}
	}
	return &EmailService{
		templates:  store.NewCollection(s, "email-templates", emailSchemaVersion, func(t model.EmailTemplate) string { return t.ID }),
		schedules:  store.NewCollection(s, "email-schedules", emailSchemaVersion, func(sc model.EmailSchedule) string { return sc.ID }),
		recipients: store.NewCollection(s, "email-recipients", emailSchemaVersion, func(r model.EmailRecipient) string { return r.ID }),
		events:     store.NewCollection(s, "email-events", emailSchemaVersion, func(e model.EmailEvent) string { return e.ID }),
		sender:     sender,
		notifier:   notifier,
		now:        time.Now,
	}
}

// DispatchResult counts the outcome of one Dispatch.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

func (s *EmailService) CreateTemplate(ctx context.Context, tpl model.EmailTemplate) (model.EmailTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" || strings.TrimSpace(tpl.Subject) == "" || strings.TrimSpace(tpl.Body) == "" {
		return model.EmailTemplate{}, fmt.Errorf("%w: name, subject and body are required", ErrValidation)
	}
	if !knownCategories[tpl.Category] {
		return model.EmailTemplate{}, fmt.Errorf("%w: unknown category %q", ErrValidation, tpl.Category)
	}
	now := s.now().UTC()
	tpl.ID = uuid.NewString()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if len(tpl.Variables) == 0 {
		tpl.Variables = templateVariables(tpl.Subject + "\n" + tpl.Body)
	}
	if err := s.templates.Insert(ctx, tpl); err != nil {
		log.Printf("[EmailService.CreateTemplate] Error saving template %q: %v", tpl.Name, err)
		return model.EmailTemplate{}, err
	}
	return tpl, nil
}

// templateVariables lists the distinct placeholder names in text.
func templateVariables(text string) []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

func (s *EmailService) ListTemplates(ctx context.Context) ([]model.EmailTemplate, error) {
	return s.templates.List(ctx)
}

func (s *EmailService) CreateRecipient(ctx context.Context, r model.EmailRecipient) (model.EmailRecipient, error) {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return model.EmailRecipient{}, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	r.ID = uuid.NewString()
	if err := s.recipients.Insert(ctx, r); err != nil {
		log.Printf("[EmailService.CreateRecipient] Error saving recipient %s: %v", r.Email, err)
		return model.EmailRecipient{}, err
	}
	return r, nil
}

func (s *EmailService) ListRecipients(ctx context.Context) ([]model.EmailRecipient, error) {
	return s.recipients.List(ctx)
}

// CreateSchedule binds an existing template. Recipients given by id only are resolved.
func (s *EmailService) CreateSchedule(ctx context.Context, sc model.EmailSchedule) (model.EmailSchedule, error) {
	if strings.TrimSpace(sc.Name) == "" {
		return model.EmailSchedule{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !knownFrequencies[sc.Frequency] {
		return model.EmailSchedule{}, fmt.Errorf("%w: unknown frequency %q", ErrValidation, sc.Frequency)
	}
	if sc.Time != "" {
		if _, _, err := parseClock(sc.Time); err != nil {
			return model.EmailSchedule{}, err
		}
	}
	for _, c := range sc.Conditions {
		if !knownConditions[c.Type] {
			return model.EmailSchedule{}, fmt.Errorf("%w: unknown condition type %q", ErrValidation, c.Type)
		}
	}
	if _, err := s.templates.Find(ctx, sc.TemplateID); err != nil {
		return model.EmailSchedule{}, mapNotFound(err, ErrTemplateNotFound)
	}

	stored, err := s.recipients.List(ctx)
	if err != nil {
		return model.EmailSchedule{}, err
	}
	resolved, err := resolveRecipients(sc.Recipients, stored, true)
	if err != nil {
		return model.EmailSchedule{}, err
	}
	sc.Recipients = resolved

	now := s.now().UTC()
	sc.ID = uuid.NewString()
	sc.CreatedAt = now
	sc.LastSent = nil
	if sc.Conditions == nil {
		sc.Conditions = []model.ScheduleCondition{}
	}
	if sc.Frequency != model.FrequencyImmediate {
		next, err := NextScheduledAt(sc, now)
		if err != nil {
			return model.EmailSchedule{}, err
		}
		sc.NextScheduled = &next
	}

	if err := s.schedules.Insert(ctx, sc); err != nil {
		log.Printf("[EmailService.CreateSchedule] Error saving schedule %q: %v", sc.Name, err)
		return model.EmailSchedule{}, err
	}
	return sc, nil
}

// resolveRecipients replaces each recipient with its stored record when the id is known,
// so preference changes apply to existing schedules.
func resolveRecipients(in, stored []model.EmailRecipient, strict bool) ([]model.EmailRecipient, error) {
	byID := make(map[string]model.EmailRecipient, len(stored))
	for _, r := range stored {
		byID[r.ID] = r
	}
	out := make([]model.EmailRecipient, 0, len(in))
	for _, r := range in {
		if current, ok := byID[r.ID]; ok && r.ID != "" {
			out = append(out, current)
			continue
		}
		if r.Email == "" {
			if strict {
				return nil, fmt.Errorf("%w: recipient %q has no email and is not a known recipient", ErrValidation, r.ID)
			}
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *EmailService) ListSchedules(ctx context.Context) ([]model.EmailSchedule, error) {
	return s.schedules.List(ctx)
}

// ListEvents returns events newest first.
func (s *EmailService) ListEvents(ctx context.Context) ([]model.EmailEvent, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}

// loadPipeline returns templates and schedules with recipients refreshed from the store.
func (s *EmailService) loadPipeline(ctx context.Context) ([]model.EmailTemplate, []model.EmailSchedule, error) {
	templates, err := s.templates.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.recipients.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range schedules {
		schedules[i].Recipients, _ = resolveRecipients(schedules[i].Recipients, stored, false)
	}
	return templates, schedules, nil
}

// ProcessRegulatoryUpdate stores the events caused by update.
func (s *EmailService) ProcessRegulatoryUpdate(ctx context.Context, update model.RegulatoryUpdate) ([]model.EmailEvent, error) {
	templates, schedules, err := s.loadPipeline(ctx)
	if err != nil {
		return nil, err
	}
	return s.saveEvents(ctx, ProcessRegulatoryUpdate(update, templates, schedules, s.now().UTC()))
}

// ProcessComplianceAlert stores the events caused by alert.
func (s *EmailService) ProcessComplianceAlert(ctx context.Context, alert model.ComplianceAlert) ([]model.EmailEvent, error) {
	templates, schedules, err := s.loadPipeline(ctx)
	if err != nil {
		return nil, err
	}
	return s.saveEvents(ctx, ProcessComplianceAlert(alert, templates, schedules, s.now().UTC()))
}

// QueueWeeklyDigest creates one digest event per active weekly_digest schedule.
func (s *EmailService) QueueWeeklyDigest(ctx context.Context, metrics model.CAPAMetrics) ([]model.EmailEvent, error) {
	templates, schedules, err := s.loadPipeline(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := Trigger{
		Type:        TriggerWeeklyDigest,
		Title:       "Weekly compliance digest",
		Description: fmt.Sprintf("%d open CAPAs, %d overdue, %d completed in the last 30 days", metrics.OpenCAPAs, metrics.OverdueCAPAs, metrics.CompletedThisMonth),
		Extra: map[string]string{
			"total_capas":             fmt.Sprint(metrics.TotalCAPAs),
			"open_capas":              fmt.Sprint(metrics.OpenCAPAs),
			"overdue_capas":           fmt.Sprint(metrics.OverdueCAPAs),
			"completed_this_month":    fmt.Sprint(metrics.CompletedThisMonth),
			"average_completion_time": fmt.Sprintf("%.1f", metrics.AverageCompletionTime),
			"effectiveness_rate":      fmt.Sprintf("%.1f", metrics.EffectivenessRate),
		},
	}

	byID := make(map[string]model.EmailTemplate, len(templates))
	for _, tpl := range templates {
		byID[tpl.ID] = tpl
	}
	events := []model.EmailEvent{}
	for _, sc := range schedules {
		tpl, ok := byID[sc.TemplateID]
		if !ok || !tpl.Active || !sc.Active || tpl.Category != model.CategoryWeeklyDigest {
			continue
		}
		event, ok := buildEvent(sc, tpl, t, now)
		if !ok {
			continue
		}
		// The digest job already runs on its own cadence; send on the next dispatch.
		event.ScheduledAt = now
		events = append(events, event)
	}
	return s.saveEvents(ctx, events)
}

func (s *EmailService) saveEvents(ctx context.Context, events []model.EmailEvent) ([]model.EmailEvent, error) {
	if len(events) == 0 {
		return events, nil
	}
	_, err := s.events.Replace(ctx, func(items []model.EmailEvent) ([]model.EmailEvent, error) {
		return append(items, events...), nil
	})
	if err != nil {
		log.Printf("[EmailService.saveEvents] Error saving %d events: %v", len(events), err)
		return nil, err
	}
	return events, nil
}

// Dispatch sends every scheduled event that is due and records the outcome.
// Failed events are not retried.
func (s *EmailService) Dispatch(ctx context.Context) (DispatchResult, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	var result DispatchResult
	now := s.now().UTC()
	events, err := s.events.List(ctx)
	if err != nil {
		return result, err
	}

	for _, e := range events {
		if e.Status != model.EmailEventScheduled || e.ScheduledAt.After(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := s.claimEvent(ctx, e.ID)
		if errors.Is(err, errEventNotScheduled) {
			log.Printf("[EmailService.Dispatch] Skipping event %s: %v", e.ID, err)
			continue
		}
		if err != nil {
			log.Printf("[EmailService.Dispatch] Error claiming event %s: %v", e.ID, err)
			return result, err
		}
		e = claimed

		sendErr := s.sender.Send(ctx, e.Recipients, e.Subject, e.Body)
		sentAt := s.now().UTC()
		_, err = s.events.Mutate(ctx, e.ID, func(ev *model.EmailEvent) error {
			if ev.Status != model.EmailEventSending {
				return fmt.Errorf("event %s left the sending state (%s)", ev.ID, ev.Status)
			}
			if sendErr != nil {
				ev.Status = model.EmailEventFailed
				ev.ErrorMessage = sendErr.Error()
				return nil
			}
			ev.Status = model.EmailEventSent
			ev.SentAt = &sentAt
			ev.ErrorMessage = ""
			return nil
		})
		if err != nil {
			log.Printf("[EmailService.Dispatch] Error recording outcome of event %s: %v", e.ID, err)
			return result, err
		}

		if sendErr != nil {
			result.Failed++
			log.Printf("[EmailService.Dispatch] Event %s failed: %v", e.ID, sendErr)
			if s.notifier != nil {
				s.notifier.Notify(ctx, model.NotificationError, "Email delivery failed", fmt.Sprintf("%q: %v", e.Subject, sendErr), "/email/events")
			}
			continue
		}
		result.Sent++
		s.markScheduleSent(ctx, e.ScheduleID, sentAt)
	}
	if result.Sent+result.Failed > 0 {
		log.Printf("[EmailService.Dispatch] Sent %d, failed %d", result.Sent, result.Failed)
	}
	return result, nil
}

var errEventNotScheduled = errors.New("event is no longer scheduled")

// claimEvent moves a scheduled event to sending under the store's CAS, so a
// concurrent cancel either wins before the send or is rejected during it.
func (s *EmailService) claimEvent(ctx context.Context, id string) (model.EmailEvent, error) {
	return s.events.Mutate(ctx, id, func(ev *model.EmailEvent) error {
		if ev.Status != model.EmailEventScheduled {
			return fmt.Errorf("%w: status is %s", errEventNotScheduled, ev.Status)
		}
		ev.Status = model.EmailEventSending
		return nil
	})
}

func (s *EmailService) markScheduleSent(ctx context.Context, scheduleID string, sentAt time.Time) {
	if scheduleID == "" {
		return
	}
	_, err := s.schedules.Mutate(ctx, scheduleID, func(sc *model.EmailSchedule) error {
		sc.LastSent = &sentAt
		if sc.Frequency != model.FrequencyImmediate {
			if next, err := NextScheduledAt(*sc, sentAt); err == nil {
				sc.NextScheduled = &next
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[EmailService.markScheduleSent] Error updating schedule %s: %v", scheduleID, err)
	}
}

// CancelEvent cancels a scheduled event. Sent, failed and cancelled events cannot be cancelled.
func (s *EmailService) CancelEvent(ctx context.Context, id string) (model.EmailEvent, error) {
	e, err := s.events.Mutate(ctx, id, func(e *model.EmailEvent) error {
		if e.Status != model.EmailEventScheduled {
			return fmt.Errorf("%w: event is %s", ErrInvalidTransition, e.Status)
		}
		e.Status = model.EmailEventCancelled
		return nil
	})
	if err != nil {
		return model.EmailEvent{}, mapNotFound(err, ErrEventNotFound)
	}
	return e, nil
}

// Statistics returns per-template delivery statistics.
func (s *EmailService) Statistics(ctx context.Context) ([]model.TemplateDeliveryStats, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	templates, err := s.templates.List(ctx)
	if err != nil {
		return nil, err
	}
	return DeliveryStatistics(events, templates), nil
}
