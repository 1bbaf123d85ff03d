package services

import (
	"context"
	"testing"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegulatoryService_IngestUpdate(t *testing.T) {
	mem := store.NewMemoryStore()
	email := NewEmailService(mem, LogSender{}, nil)
	email.now = fixedClock
	seedPipeline(t, email, model.FrequencyImmediate)

	notes := &recordingNotifier{}
	svc := NewRegulatoryService(mem, &SearchIndex{}, email, notes)
	svc.now = fixedClock
	ctx := context.Background()

	res, err := svc.IngestUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	assert.Equal(t, "upd-1", res.Record.ID)
	assert.Equal(t, FixedTime, res.Record.PublishedDate)
	require.Len(t, res.Events, 1)
	assert.Equal(t, []string{"Regulatory update"}, notes.Titles())

	stored, err := email.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = svc.IngestUpdate(ctx, model.RegulatoryUpdate{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegulatoryService_IngestAlert(t *testing.T) {
	mem := store.NewMemoryStore()
	email := NewEmailService(mem, LogSender{}, nil)
	svc := NewRegulatoryService(mem, nil, email, nil)
	svc.now = fixedClock

	res, err := svc.IngestAlert(context.Background(), model.ComplianceAlert{Title: "Overdue CAPAs", Severity: "major"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Record.ID)
	assert.Equal(t, FixedTime, res.Record.CreatedAt)
	assert.Empty(t, res.Events)
}

func TestRegulatoryService_IngestRepeatedID(t *testing.T) {
	mem := store.NewMemoryStore()
	email := NewEmailService(mem, LogSender{}, nil)
	email.now = fixedClock
	seedPipeline(t, email, model.FrequencyImmediate)

	notes := &recordingNotifier{}
	svc := NewRegulatoryService(mem, &SearchIndex{}, email, notes)
	svc.now = fixedClock
	ctx := context.Background()

	first, err := svc.IngestUpdate(ctx, fdaUpdate())
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	assert.False(t, first.Duplicate)

	redelivered := fdaUpdate()
	redelivered.Title = "Cybersecurity guidance (revised)"
	again, err := svc.IngestUpdate(ctx, redelivered)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Empty(t, again.Events)
	assert.Equal(t, first.Record.Title, again.Record.Title)

	updates, err := svc.ListUpdates(ctx)
	require.NoError(t, err)
	assert.Len(t, updates, 1)

	events, err := email.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, notes.Titles(), 1)

	alert := model.ComplianceAlert{ID: "alert-7", Title: "Overdue CAPAs", Severity: "major"}
	_, err = svc.IngestAlert(ctx, alert)
	require.NoError(t, err)
	repeat, err := svc.IngestAlert(ctx, alert)
	require.NoError(t, err)
	assert.True(t, repeat.Duplicate)
	assert.Equal(t, FixedTime, repeat.Record.CreatedAt)
}

func TestRegulatoryService_SearchWithoutIndex(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := NewRegulatoryService(mem, &SearchIndex{}, NewEmailService(mem, nil, nil), nil)
	ctx := context.Background()

	older := model.RegulatoryUpdate{Title: "MDR transition extended", Framework: "EU MDR", PublishedDate: FixedTime.Add(-48 * time.Hour)}
	newer := fdaUpdate()
	newer.PublishedDate = FixedTime
	for _, u := range []model.RegulatoryUpdate{older, newer} {
		_, err := svc.IngestUpdate(ctx, u)
		require.NoError(t, err)
	}

	all, err := svc.ListUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "QMSR final rule", all[0].Title)

	hits, err := svc.SearchUpdates(ctx, "mdr")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "EU MDR", hits[0].Framework)

	hits, err = svc.SearchUpdates(ctx, "iso 13485")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "upd-1", hits[0].ID)
}
