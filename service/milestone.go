package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
)

const atRiskWindow = 7 * 24 * time.Hour

// DeriveMilestoneStatus computes a milestone status from progress and dates.
// Order: completed, delayed, at-risk, then in-progress or not-started by progress.
func DeriveMilestoneStatus(m model.Milestone, now time.Time) model.MilestoneStatus {
	switch {
	case m.Progress >= 100:
		return model.MilestoneCompleted
	case now.After(m.TargetDate):
		return model.MilestoneDelayed
	case m.TargetDate.Sub(now) <= atRiskWindow && m.Progress < 80:
		return model.MilestoneAtRisk
	case m.Progress > 0:
		return model.MilestoneInProgress
	}
	return model.MilestoneNotStarted
}

// MilestoneService owns the milestones collection.
type MilestoneService struct {
	milestones *store.Collection[model.Milestone]
	now        func() time.Time
}

func NewMilestoneService(s store.Store) *MilestoneService {
	return &MilestoneService{
		milestones: store.NewCollection(s, "milestones", 1, func(m model.Milestone) string { return m.ID }),
		now:        time.Now,
	}
}

// Create validates and stores a milestone. Every dependency must name an existing milestone.
func (s *MilestoneService) Create(ctx context.Context, m model.Milestone) (model.Milestone, error) {
	if strings.TrimSpace(m.Title) == "" {
		return model.Milestone{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if m.TargetDate.IsZero() {
		return model.Milestone{}, fmt.Errorf("%w: targetDate is required", ErrValidation)
	}
	if m.Progress < 0 || m.Progress > 100 {
		return model.Milestone{}, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
	}

	now := s.now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}
	if m.Frameworks == nil {
		m.Frameworks = []string{}
	}
	if m.Priority == "" {
		m.Priority = model.PriorityMedium
	}
	m.Status = DeriveMilestoneStatus(m, now)
	if m.Status == model.MilestoneCompleted {
		m.CompletedAt = &now
	}

	_, err := s.milestones.Replace(ctx, func(items []model.Milestone) ([]model.Milestone, error) {
		known := make(map[string]bool, len(items))
		for _, it := range items {
			known[it.ID] = true
		}
		for _, dep := range m.Dependencies {
			if !known[dep] {
				return nil, fmt.Errorf("%w: unknown dependency %q", ErrValidation, dep)
			}
		}
		return append(items, m), nil
	})
	if err != nil {
		return model.Milestone{}, err
	}
	return m, nil
}

// List returns every milestone with its status derived as of now.
func (s *MilestoneService) List(ctx context.Context) ([]model.Milestone, error) {
	items, err := s.milestones.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range items {
		items[i].Status = DeriveMilestoneStatus(items[i], now)
	}
	return items, nil
}

// UpdateProgress sets progress (0-100) and re-derives the status.
func (s *MilestoneService) UpdateProgress(ctx context.Context, id string, progress int) (model.Milestone, error) {
	if progress < 0 || progress > 100 {
		return model.Milestone{}, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
	}
	m, err := s.milestones.Mutate(ctx, id, func(m *model.Milestone) error {
		now := s.now().UTC()
		m.Progress = progress
		m.Status = DeriveMilestoneStatus(*m, now)
		if m.Status == model.MilestoneCompleted {
			if m.CompletedAt == nil {
				m.CompletedAt = &now
			}
		} else {
			m.CompletedAt = nil
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.Milestone{}, mapNotFound(err, ErrMilestoneNotFound)
	}
	return m, nil
}

// BlockedBy lists the dependencies of id that are not yet completed.
func (s *MilestoneService) BlockedBy(ctx context.Context, id string) ([]model.Milestone, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Milestone, len(items))
	for _, m := range items {
		byID[m.ID] = m
	}
	target, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("milestone %s: %w", id, ErrMilestoneNotFound)
	}
	blocking := []model.Milestone{}
	for _, dep := range target.Dependencies {
		if m, ok := byID[dep]; ok && m.Status != model.MilestoneCompleted {
			blocking = append(blocking, m)
		}
	}
	return blocking, nil
}

// RefreshStatuses persists derived statuses and returns how many changed.
func (s *MilestoneService) RefreshStatuses(ctx context.Context) (int, error) {
	now := s.now().UTC()
	changed := 0
	_, err := s.milestones.Replace(ctx, func(items []model.Milestone) ([]model.Milestone, error) {
		changed = 0
		for i := range items {
			next := DeriveMilestoneStatus(items[i], now)
			if next != items[i].Status {
				items[i].Status = next
				items[i].UpdatedAt = now
				changed++
			}
		}
		return items, nil
	})
	if err != nil {
		log.Printf("[MilestoneService.RefreshStatuses] Error saving statuses: %v", err)
		return 0, err
	}
	return changed, nil
}
