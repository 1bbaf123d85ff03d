package services

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestEmailService(sender Sender, notifier Notifier) *EmailService {
	svc := NewEmailService(store.NewMemoryStore(), sender, notifier)
	svc.now = fixedClock
	return svc
}

// seedPipeline stores one regulatory template, one opted-in recipient and an immediate schedule.
func seedPipeline(t *testing.T, svc *EmailService, frequency string) (model.EmailTemplate, model.EmailSchedule) {
	t.Helper()
	ctx := context.Background()
	tpl := regulatoryTemplate()
	tpl, err := svc.CreateTemplate(ctx, tpl)
	require.NoError(t, err)

	r, err := svc.CreateRecipient(ctx, optedIn("qa@example.com"))
	require.NoError(t, err)

	sc, err := svc.CreateSchedule(ctx, model.EmailSchedule{
		Name:       "FDA watch",
		TemplateID: tpl.ID,
		Frequency:  frequency,
		Active:     true,
		Recipients: []model.EmailRecipient{{ID: r.ID}},
	})
	require.NoError(t, err)
	return tpl, sc
}

func TestEmailService_CreateTemplate(t *testing.T) {
	svc := newTestEmailService(nil, nil)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, regulatoryTemplate())
	require.NoError(t, err)
	assert.NotEqual(t, "tpl-reg", tpl.ID)
	assert.Equal(t, []string{"framework", "title", "description", "priority", "effective_date", "recommendations"}, tpl.Variables)

	bad := regulatoryTemplate()
	bad.Category = "newsletter"
	_, err = svc.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = regulatoryTemplate()
	bad.Body = ""
	_, err = svc.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEmailService_CreateSchedule(t *testing.T) {
	svc := newTestEmailService(nil, nil)
	ctx := context.Background()
	tpl, sc := seedPipeline(t, svc, model.FrequencyDaily)

	require.Len(t, sc.Recipients, 1)
	assert.Equal(t, "qa@example.com", sc.Recipients[0].Email)
	require.NotNil(t, sc.NextScheduled)
	assert.Equal(t, FixedTime.AddDate(0, 0, 1), *sc.NextScheduled)

	tests := []struct {
		name string
		in   model.EmailSchedule
		err  error
	}{
		{"unknown template", model.EmailSchedule{Name: "x", TemplateID: "nope", Frequency: model.FrequencyDaily}, ErrTemplateNotFound},
		{"unknown frequency", model.EmailSchedule{Name: "x", TemplateID: tpl.ID, Frequency: "yearly"}, ErrValidation},
		{"bad time", model.EmailSchedule{Name: "x", TemplateID: tpl.ID, Frequency: model.FrequencyDaily, Time: "9am"}, ErrValidation},
		{"unknown condition", model.EmailSchedule{Name: "x", TemplateID: tpl.ID, Frequency: model.FrequencyDaily, Conditions: []model.ScheduleCondition{{Type: "weather", Value: "rain"}}}, ErrValidation},
		{"dangling recipient id", model.EmailSchedule{Name: "x", TemplateID: tpl.ID, Frequency: model.FrequencyDaily, Recipients: []model.EmailRecipient{{ID: "ghost"}}}, ErrValidation},
		{"missing name", model.EmailSchedule{TemplateID: tpl.ID, Frequency: model.FrequencyDaily}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSchedule(ctx, tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEmailService_RecipientPreferencesApplyToExistingSchedules(t *testing.T) {
	svc := newTestEmailService(nil, nil)
	ctx := context.Background()
	_, sc := seedPipeline(t, svc, model.FrequencyImmediate)

	_, err := svc.recipients.Mutate(ctx, sc.Recipients[0].ID, func(r *model.EmailRecipient) error {
		r.Preferences.RegulatoryUpdates = false
		return nil
	})
	require.NoError(t, err)

	events, err := svc.ProcessRegulatoryUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEmailService_Dispatch(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		assertions func(t *testing.T, svc *EmailService, res DispatchResult, notes *recordingNotifier)
	}{
		{
			name: "delivered",
			assertions: func(t *testing.T, svc *EmailService, res DispatchResult, notes *recordingNotifier) {
				assert.Equal(t, DispatchResult{Sent: 1}, res)
				events, err := svc.ListEvents(context.Background())
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, model.EmailEventSent, events[0].Status)
				require.NotNil(t, events[0].SentAt)

				schedules, err := svc.ListSchedules(context.Background())
				require.NoError(t, err)
				require.NotNil(t, schedules[0].LastSent)
				assert.Empty(t, notes.Titles())
			},
		},
		{
			name:    "relay failure",
			sendErr: errors.New("550 mailbox unavailable"),
			assertions: func(t *testing.T, svc *EmailService, res DispatchResult, notes *recordingNotifier) {
				assert.Equal(t, DispatchResult{Failed: 1}, res)
				events, err := svc.ListEvents(context.Background())
				require.NoError(t, err)
				assert.Equal(t, model.EmailEventFailed, events[0].Status)
				assert.Contains(t, events[0].ErrorMessage, "550")
				assert.Nil(t, events[0].SentAt)
				assert.Equal(t, []string{"Email delivery failed"}, notes.Titles())

				stats, err := svc.Statistics(context.Background())
				require.NoError(t, err)
				require.Len(t, stats, 1)
				assert.Equal(t, 0.0, stats[0].DeliveryRate)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := new(MockSender)
			sender.On("Send", []string{"qa@example.com"}, "[FDA] QMSR final rule").Return(tt.sendErr).Once()
			notes := &recordingNotifier{}
			svc := newTestEmailService(sender, notes)
			seedPipeline(t, svc, model.FrequencyImmediate)

			events, err := svc.ProcessRegulatoryUpdate(context.Background(), fdaUpdate())
			require.NoError(t, err)
			require.Len(t, events, 1)

			res, err := svc.Dispatch(context.Background())
			require.NoError(t, err)
			tt.assertions(t, svc, res, notes)

			// Sent and failed events are never picked up again.
			again, err := svc.Dispatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, DispatchResult{}, again)
			sender.AssertExpectations(t)
		})
	}
}

func TestEmailService_DispatchSkipsFutureEvents(t *testing.T) {
	sender := new(MockSender)
	svc := newTestEmailService(sender, nil)
	seedPipeline(t, svc, model.FrequencyDaily)

	events, err := svc.ProcessRegulatoryUpdate(context.Background(), fdaUpdate())
	require.NoError(t, err)
	require.Len(t, events, 1)

	res, err := svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{}, res)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	svc.now = func() time.Time { return FixedTime.AddDate(0, 0, 2) }
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	res, err = svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestEmailService_CancelEvent(t *testing.T) {
	svc := newTestEmailService(nil, nil)
	ctx := context.Background()
	seedPipeline(t, svc, model.FrequencyWeekly)
	events, err := svc.ProcessRegulatoryUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	require.Len(t, events, 1)

	got, err := svc.CancelEvent(ctx, events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailEventCancelled, got.Status)

	_, err = svc.CancelEvent(ctx, events[0].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.CancelEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

// cancellingSender cancels events through the service while a send is in flight.
type cancellingSender struct {
	svc        *EmailService
	cancel     []string
	cancelErrs []error
	sends      int
}

func (c *cancellingSender) Send(ctx context.Context, _ []string, _, _ string) error {
	c.sends++
	if c.sends == 1 {
		for _, id := range c.cancel {
			_, err := c.svc.CancelEvent(ctx, id)
			c.cancelErrs = append(c.cancelErrs, err)
		}
	}
	return nil
}

func TestEmailService_CancelDuringDispatch(t *testing.T) {
	ctx := context.Background()
	sender := &cancellingSender{}
	svc := newTestEmailService(sender, nil)
	sender.svc = svc
	seedPipeline(t, svc, model.FrequencyImmediate)

	first, err := svc.ProcessRegulatoryUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	second, err := svc.ProcessRegulatoryUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	// While the first event is sending, cancel it and the one still queued behind it.
	sender.cancel = []string{first[0].ID, second[0].ID}

	res, err := svc.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Sent: 1}, res)
	assert.Equal(t, 1, sender.sends)

	require.Len(t, sender.cancelErrs, 2)
	assert.ErrorIs(t, sender.cancelErrs[0], ErrInvalidTransition, "an in-flight event cannot be cancelled")
	assert.NoError(t, sender.cancelErrs[1])

	events, err := svc.ListEvents(ctx)
	require.NoError(t, err)
	status := map[string]model.EmailEventStatus{}
	for _, e := range events {
		status[e.ID] = e.Status
	}
	assert.Equal(t, model.EmailEventSent, status[first[0].ID])
	assert.Equal(t, model.EmailEventCancelled, status[second[0].ID])
}

func TestEmailService_QueueWeeklyDigest(t *testing.T) {
	svc := newTestEmailService(nil, nil)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, model.EmailTemplate{
		Name:     "Digest",
		Subject:  "Weekly digest {{date}}",
		Body:     "Open {{open_capas}} / overdue {{overdue_capas}} / effectiveness {{effectiveness_rate}}%",
		Category: model.CategoryWeeklyDigest,
		Active:   true,
	})
	require.NoError(t, err)
	r, err := svc.CreateRecipient(ctx, model.EmailRecipient{Email: "exec@example.com", Active: true, Preferences: model.RecipientPreferences{WeeklyDigest: true}})
	require.NoError(t, err)
	_, err = svc.CreateSchedule(ctx, model.EmailSchedule{Name: "Monday digest", TemplateID: tpl.ID, Frequency: model.FrequencyWeekly, Time: "08:00", Active: true, Recipients: []model.EmailRecipient{r}})
	require.NoError(t, err)

	events, err := svc.QueueWeeklyDigest(ctx, model.CAPAMetrics{OpenCAPAs: 4, OverdueCAPAs: 1, EffectivenessRate: 75})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Weekly digest 2025-03-05", events[0].Subject)
	assert.Equal(t, "Open 4 / overdue 1 / effectiveness 75.0%", events[0].Body)
	assert.Equal(t, FixedTime, events[0].ScheduledAt)
	assert.Equal(t, TriggerWeeklyDigest, events[0].TriggerType)
}

func TestSMTPSender_Send(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "user", Password: "secret", From: "noreply@example.com"})
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := sender.Send(context.Background(), []string{"a@example.com", "b@example.com"}, "Alert\r\nBcc: evil@example.com", "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "Subject: Alert  Bcc: evil@example.com\r\n"))
	assert.Contains(t, gotMsg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>hi</p>")

	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection reset") }
	assert.Error(t, sender.Send(context.Background(), []string{"a@example.com"}, "s", "b"))
	assert.Error(t, sender.Send(context.Background(), nil, "s", "b"))
}

func TestNewSender(t *testing.T) {
	assert.IsType(t, LogSender{}, NewSender(SMTPConfig{}))
	assert.IsType(t, &SMTPSender{}, NewSender(SMTPConfig{Host: "smtp.example.com", Port: "25", From: "a@example.com"}))
}
