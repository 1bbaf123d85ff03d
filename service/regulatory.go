package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
)

// RegulatoryService ingests regulatory updates and compliance alerts and fans them out to email.
type RegulatoryService struct {
	updates  *store.Collection[model.RegulatoryUpdate]
	alerts   *store.Collection[model.ComplianceAlert]
	search   *SearchIndex
	email    *EmailService
	notifier Notifier
	now      func() time.Time
}

func NewRegulatoryService(s store.Store, search *SearchIndex, email *EmailService, notifier Notifier) *RegulatoryService {
	return &RegulatoryService{
		updates:  store.NewCollection(s, "regulatory-updates", 1, func(u model.RegulatoryUpdate) string { return u.ID }),
		alerts:   store.NewCollection(s, "compliance-alerts", 1, func(a model.ComplianceAlert) string { return a.ID }),
		search:   search,
		email:    email,
		notifier: notifier,
		now:      time.Now,
	}
}

// IngestResult is a stored trigger with the email events it caused.
type IngestResult[T any] struct {
	Record    T                  `json:"record"`
	Events    []model.EmailEvent `json:"events"`
	Duplicate bool               `json:"duplicate,omitempty"`
}

// insertOnce appends item unless a record with the same id is already stored,
// in which case the stored record is returned with found set.
func insertOnce[T any](ctx context.Context, c *store.Collection[T], item T, idOf func(T) string) (stored T, found bool, err error) {
	_, err = c.Replace(ctx, func(items []T) ([]T, error) {
		for _, existing := range items {
			if idOf(existing) == idOf(item) {
				stored, found = existing, true
				return nil, errAlreadyStored
			}
		}
		stored, found = item, false
		return append(items, item), nil
	})
	if errors.Is(err, errAlreadyStored) {
		return stored, true, nil
	}
	return stored, false, err
}

var errAlreadyStored = errors.New("record already stored")

// IngestUpdate stores, indexes and dispatches a regulatory update.
func (s *RegulatoryService) IngestUpdate(ctx context.Context, u model.RegulatoryUpdate) (IngestResult[model.RegulatoryUpdate], error) {
	if strings.TrimSpace(u.Title) == "" {
		return IngestResult[model.RegulatoryUpdate]{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.PublishedDate.IsZero() {
		u.PublishedDate = s.now().UTC()
	}
	stored, found, err := insertOnce(ctx, s.updates, u, func(x model.RegulatoryUpdate) string { return x.ID })
	if err != nil {
		log.Printf("[RegulatoryService.IngestUpdate] Error saving update %q: %v", u.Title, err)
		return IngestResult[model.RegulatoryUpdate]{}, err
	}
	if found {
		log.Printf("[RegulatoryService.IngestUpdate] Update %s already ingested, skipping dispatch", u.ID)
		return IngestResult[model.RegulatoryUpdate]{Record: stored, Events: []model.EmailEvent{}, Duplicate: true}, nil
	}

	if err := s.search.IndexDocument(ctx, IndexRegulatoryUpdates, u.ID, u); err != nil {
		log.Printf("[RegulatoryService.IngestUpdate] Skipping search index for %s: %v", u.ID, err)
	}

	events, err := s.email.ProcessRegulatoryUpdate(ctx, u)
	if err != nil {
		return IngestResult[model.RegulatoryUpdate]{}, fmt.Errorf("update %s stored but email processing failed: %w", u.ID, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, model.NotificationInfo, "Regulatory update", u.Title, u.URL)
	}
	return IngestResult[model.RegulatoryUpdate]{Record: u, Events: events}, nil
}

// IngestAlert stores and dispatches a compliance alert.
func (s *RegulatoryService) IngestAlert(ctx context.Context, a model.ComplianceAlert) (IngestResult[model.ComplianceAlert], error) {
	if strings.TrimSpace(a.Title) == "" {
		return IngestResult[model.ComplianceAlert]{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	stored, found, err := insertOnce(ctx, s.alerts, a, func(x model.ComplianceAlert) string { return x.ID })
	if err != nil {
		log.Printf("[RegulatoryService.IngestAlert] Error saving alert %q: %v", a.Title, err)
		return IngestResult[model.ComplianceAlert]{}, err
	}
	if found {
		log.Printf("[RegulatoryService.IngestAlert] Alert %s already ingested, skipping dispatch", a.ID)
		return IngestResult[model.ComplianceAlert]{Record: stored, Events: []model.EmailEvent{}, Duplicate: true}, nil
	}

	events, err := s.email.ProcessComplianceAlert(ctx, a)
	if err != nil {
		return IngestResult[model.ComplianceAlert]{}, fmt.Errorf("alert %s stored but email processing failed: %w", a.ID, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, model.NotificationWarning, "Compliance alert", a.Title, "")
	}
	return IngestResult[model.ComplianceAlert]{Record: a, Events: events}, nil
}

// ListUpdates returns updates newest first.
func (s *RegulatoryService) ListUpdates(ctx context.Context) ([]model.RegulatoryUpdate, error) {
	items, err := s.updates.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedDate.After(items[j].PublishedDate) })
	return items, nil
}

// SearchUpdates queries Elasticsearch, or scans the stored updates when search is not configured.
func (s *RegulatoryService) SearchUpdates(ctx context.Context, query string) ([]model.RegulatoryUpdate, error) {
	if s.search.Enabled() {
		hits, err := s.search.Search(ctx, IndexRegulatoryUpdates, query, []string{"title", "description", "framework", "agency"})
		if err != nil {
			return nil, err
		}
		out := make([]model.RegulatoryUpdate, 0, len(hits))
		for _, hit := range hits {
			raw, err := json.Marshal(hit)
			if err != nil {
				continue
			}
			var u model.RegulatoryUpdate
			if err := json.Unmarshal(raw, &u); err != nil {
				log.Printf("[RegulatoryService.SearchUpdates] Skipping malformed hit: %v", err)
				continue
			}
			out = append(out, u)
		}
		return out, nil
	}

	items, err := s.ListUpdates(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := []model.RegulatoryUpdate{}
	for _, u := range items {
		haystack := strings.ToLower(strings.Join([]string{u.Title, u.Description, u.Framework, u.Agency}, " "))
		if strings.Contains(haystack, q) {
			out = append(out, u)
		}
	}
	return out, nil
}
