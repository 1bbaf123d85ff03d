package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const capaSchemaVersion = 1

// CAPAService owns the capa-workflows collection.
type CAPAService struct {
	workflows *store.Collection[model.CAPAWorkflow]
	generator *CAPAGenerator
	indexer   Indexer
	storage   ObjectStorage
	notifier  Notifier
	now       func() time.Time
}

// CAPAServiceOption configures optional integrations.
type CAPAServiceOption func(*CAPAService)

func WithIndexer(i Indexer) CAPAServiceOption       { return func(s *CAPAService) { s.indexer = i } }
func WithStorage(o ObjectStorage) CAPAServiceOption { return func(s *CAPAService) { s.storage = o } }
func WithNotifier(n Notifier) CAPAServiceOption     { return func(s *CAPAService) { s.notifier = n } }

func NewCAPAService(s store.Store, generator *CAPAGenerator, opts ...CAPAServiceOption) *CAPAService {
	svc := &CAPAService{
		workflows: store.NewCollection(s, "capa-workflows", capaSchemaVersion, func(w model.CAPAWorkflow) string { return w.ID }),
		generator: generator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ActionPatch updates a single action. Nil fields are unchanged.
type ActionPatch struct {
	Status     *model.ActionStatus `json:"status"`
	Evidence   *string             `json:"evidence"`
	AssignedTo *string             `json:"assignedTo"`
	DueDate    *time.Time          `json:"dueDate"`
}

// OptimizeResult is the outcome of Optimize. Diff is a patch in diff-match-patch text format.
type OptimizeResult struct {
	Workflow model.CAPAWorkflow      `json:"workflow"`
	Patch    model.CAPAWorkflowPatch `json:"patch"`
	Diff     string                  `json:"diff"`
	Changed  bool                    `json:"changed"`
}

// Create validates and persists a workflow draft.
func (s *CAPAService) Create(ctx context.Context, draft model.CAPAWorkflow) (model.CAPAWorkflow, error) {
	now := s.now().UTC()
	wf := draft
	wf.ID = uuid.NewString()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.Status = model.CAPAStatusDraft
	wf.History = nil
	wf.CompletedDate = nil
	wf.ApprovedBy = ""

	if strings.TrimSpace(wf.Title) == "" {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !wf.DueDate.After(wf.CreatedAt) {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: dueDate must be later than createdAt", ErrValidation)
	}
	if wf.Priority == "" {
		wf.Priority = model.PriorityMedium
	}
	for _, kind := range []model.ActionKind{model.ActionKindImmediate, model.ActionKindCorrective, model.ActionKindPreventive} {
		list := wf.ActionList(kind)
		if *list == nil {
			*list = []model.CAPAAction{}
		}
		for i := range *list {
			a := &(*list)[i]
			if strings.TrimSpace(a.Description) == "" {
				return model.CAPAWorkflow{}, fmt.Errorf("%w: %s action %d has no description", ErrValidation, kind, i)
			}
			a.ID = uuid.NewString()
			if a.Status == "" {
				a.Status = model.ActionStatusNotStarted
			}
			if a.DueDate.IsZero() {
				a.DueDate = wf.DueDate
			}
			a.Status = DeriveActionStatus(*a, now)
		}
	}
	if wf.LinkedGaps == nil {
		wf.LinkedGaps = []string{}
	}
	if wf.LinkedFindings == nil {
		wf.LinkedFindings = []string{}
	}
	if wf.Attachments == nil {
		wf.Attachments = []string{}
	}

	if err := s.workflows.Insert(ctx, wf); err != nil {
		log.Printf("[CAPAService.Create] Error saving workflow %q: %v", wf.Title, err)
		return model.CAPAWorkflow{}, err
	}
	log.Printf("[CAPAService.Create] Workflow %s created: %s", wf.ID, wf.Title)
	s.index(ctx, wf)
	s.notify(ctx, model.NotificationSuccess, "CAPA created", wf.Title, "/capa/"+wf.ID)
	return wf, nil
}

// CreateFromGap drafts a workflow for gap and persists it.
func (s *CAPAService) CreateFromGap(ctx context.Context, gap model.ComplianceGap, initiatedBy string) (model.CAPAWorkflow, error) {
	draft, err := s.generator.GenerateFromGap(ctx, gap)
	if err != nil {
		return model.CAPAWorkflow{}, err
	}
	draft.InitiatedBy = initiatedBy
	return s.Create(ctx, draft)
}

// CreateFromFinding drafts a workflow for finding and persists it.
func (s *CAPAService) CreateFromFinding(ctx context.Context, finding model.ComplianceFinding, initiatedBy string) (model.CAPAWorkflow, error) {
	draft, err := s.generator.GenerateFromFinding(ctx, finding)
	if err != nil {
		return model.CAPAWorkflow{}, err
	}
	draft.InitiatedBy = initiatedBy
	return s.Create(ctx, draft)
}

// List returns every workflow with action statuses derived as of now.
func (s *CAPAService) List(ctx context.Context) ([]model.CAPAWorkflow, error) {
	items, err := s.workflows.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range items {
		deriveWorkflowActions(&items[i], now)
	}
	return items, nil
}

// Get returns one workflow.
func (s *CAPAService) Get(ctx context.Context, id string) (model.CAPAWorkflow, error) {
	wf, err := s.workflows.Find(ctx, id)
	if err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	deriveWorkflowActions(&wf, s.now())
	return wf, nil
}

// Transition moves a workflow forward. Backward, same-status and post-closure moves are rejected.
func (s *CAPAService) Transition(ctx context.Context, id string, to model.CAPAStatus, actor string) (model.CAPAWorkflow, error) {
	if to.Rank() < 0 {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	var from model.CAPAStatus
	wf, err := s.workflows.Mutate(ctx, id, func(wf *model.CAPAWorkflow) error {
		from = wf.Status
		now := s.now().UTC()
		if err := applyTransition(wf, to, actor, now); err != nil {
			return err
		}
		wf.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	log.Printf("[CAPAService.Transition] Workflow %s moved %s -> %s by %s", id, from, to, actor)
	s.index(ctx, wf)
	s.notify(ctx, model.NotificationInfo, "CAPA status changed",
		fmt.Sprintf("%s moved from %s to %s", wf.Title, from, to), "/capa/"+wf.ID)
	return wf, nil
}

func applyTransition(wf *model.CAPAWorkflow, to model.CAPAStatus, actor string, now time.Time) error {
	from := wf.Status
	if from == model.CAPAStatusClosed {
		return fmt.Errorf("%w: workflow is closed", ErrInvalidTransition)
	}
	if to.Rank() <= from.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	approvedRank := model.CAPAStatusApproved.Rank()
	if from.Rank() < approvedRank && to.Rank() >= approvedRank && wf.ApprovedBy == "" {
		wf.ApprovedBy = actor
	}
	if to.Rank() >= model.CAPAStatusCompleted.Rank() && wf.CompletedDate == nil {
		completed := now
		wf.CompletedDate = &completed
	}
	wf.Status = to
	wf.History = append(wf.History, model.StatusChange{From: from, To: to, Actor: actor, At: now})
	return nil
}

// UpdateAction patches one action. Completing an action that requires evidence needs evidence.
func (s *CAPAService) UpdateAction(ctx context.Context, id, actionID string, patch ActionPatch) (model.CAPAWorkflow, error) {
	wf, err := s.workflows.Mutate(ctx, id, func(wf *model.CAPAWorkflow) error {
		action, _, ok := wf.FindAction(actionID)
		if !ok {
			return fmt.Errorf("action %s: %w", actionID, ErrActionNotFound)
		}
		now := s.now().UTC()
		if err := applyActionPatch(action, patch, now); err != nil {
			return err
		}
		wf.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	s.index(ctx, wf)
	return wf, nil
}

func applyActionPatch(a *model.CAPAAction, patch ActionPatch, now time.Time) error {
	if patch.AssignedTo != nil {
		a.AssignedTo = *patch.AssignedTo
	}
	if patch.Evidence != nil {
		a.Evidence = *patch.Evidence
	}
	if patch.DueDate != nil {
		a.DueDate = *patch.DueDate
	}
	if patch.Status != nil {
		switch *patch.Status {
		case model.ActionStatusNotStarted, model.ActionStatusInProgress:
			a.Status = *patch.Status
			a.CompletedDate = nil
		case model.ActionStatusCompleted:
			if a.EvidenceRequired && strings.TrimSpace(a.Evidence) == "" {
				return fmt.Errorf("%w: action %s requires evidence before completion", ErrValidation, a.ID)
			}
			if a.Status != model.ActionStatusCompleted {
				completed := now
				a.CompletedDate = &completed
			}
			a.Status = model.ActionStatusCompleted
		case model.ActionStatusOverdue:
			return fmt.Errorf("%w: overdue is derived from the due date", ErrValidation)
		default:
			return fmt.Errorf("%w: unknown action status %q", ErrValidation, *patch.Status)
		}
	}
	a.Status = DeriveActionStatus(*a, now)
	return nil
}

// DeriveActionStatus enforces that overdue holds exactly for unfinished actions past their due date.
func DeriveActionStatus(a model.CAPAAction, now time.Time) model.ActionStatus {
	if a.Status == model.ActionStatusCompleted {
		return a.Status
	}
	if !a.DueDate.IsZero() && a.DueDate.Before(now) {
		return model.ActionStatusOverdue
	}
	if a.Status == model.ActionStatusOverdue {
		return model.ActionStatusInProgress
	}
	return a.Status
}

// deriveWorkflowActions reports whether any action status changed.
func deriveWorkflowActions(wf *model.CAPAWorkflow, now time.Time) bool {
	changed := false
	for _, kind := range []model.ActionKind{model.ActionKindImmediate, model.ActionKindCorrective, model.ActionKindPreventive} {
		list := wf.ActionList(kind)
		for i := range *list {
			next := DeriveActionStatus((*list)[i], now)
			if next != (*list)[i].Status {
				(*list)[i].Status = next
				changed = true
			}
		}
	}
	return changed
}

// RefreshOverdue persists derived action statuses and returns the number of workflows changed.
func (s *CAPAService) RefreshOverdue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	items, err := s.workflows.List(ctx)
	if err != nil {
		return 0, err
	}
	stale := false
	for i := range items {
		if deriveWorkflowActions(&items[i], now) {
			stale = true
			break
		}
	}
	if !stale {
		return 0, nil
	}

	changed := 0
	_, err = s.workflows.Replace(ctx, func(items []model.CAPAWorkflow) ([]model.CAPAWorkflow, error) {
		changed = 0
		for i := range items {
			if deriveWorkflowActions(&items[i], now) {
				items[i].UpdatedAt = now
				changed++
			}
		}
		return items, nil
	})
	if err != nil {
		log.Printf("[CAPAService.RefreshOverdue] Error saving derived statuses: %v", err)
		return 0, err
	}
	log.Printf("[CAPAService.RefreshOverdue] Updated action statuses on %d workflows", changed)
	return changed, nil
}

// ConfirmEffectiveness records the verification outcome of a completed or closed workflow.
func (s *CAPAService) ConfirmEffectiveness(ctx context.Context, id string, confirmed bool) (model.CAPAWorkflow, error) {
	wf, err := s.workflows.Mutate(ctx, id, func(wf *model.CAPAWorkflow) error {
		if wf.Status.IsOpen() {
			return fmt.Errorf("%w: effectiveness can only be confirmed once the workflow is completed", ErrInvalidTransition)
		}
		wf.VerificationPlan.EffectivenessConfirmed = confirmed
		wf.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	s.index(ctx, wf)
	return wf, nil
}

// Optimize applies a generated improvement to the action plan and describes the change as a patch.
func (s *CAPAService) Optimize(ctx context.Context, id string) (OptimizeResult, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return OptimizeResult{}, err
	}
	patch := s.generator.OptimizeWorkflow(ctx, current)
	if patch.IsEmpty() {
		log.Printf("[CAPAService.Optimize] No changes proposed for %s", id)
		return OptimizeResult{Workflow: current, Patch: patch}, nil
	}

	updated, err := s.workflows.Mutate(ctx, id, func(wf *model.CAPAWorkflow) error {
		applyPatch(wf, patch)
		wf.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return OptimizeResult{}, mapNotFound(err, ErrWorkflowNotFound)
	}

	dmp := diffmatchpatch.New()
	before, after := describePlan(current), describePlan(updated)
	diffs := dmp.DiffMain(before, after, false)
	patchText := dmp.PatchToText(dmp.PatchMake(before, diffs))

	s.index(ctx, updated)
	s.notify(ctx, model.NotificationSuccess, "CAPA optimized", updated.Title, "/capa/"+updated.ID)
	return OptimizeResult{Workflow: updated, Patch: patch, Diff: patchText, Changed: true}, nil
}

// applyPatch writes patch onto the stored workflow. Kept actions are taken from
// wf rather than from the patch, so updates made while the patch was being
// generated survive.
func applyPatch(wf *model.CAPAWorkflow, patch model.CAPAWorkflowPatch) {
	if patch.CorrectiveActions != nil {
		wf.CorrectiveActions = withIDs(rebaseActions(wf.CorrectiveActions, patch.CorrectiveActions))
	}
	if patch.PreventiveActions != nil {
		wf.PreventiveActions = withIDs(rebaseActions(wf.PreventiveActions, patch.PreventiveActions))
	}
	if p := patch.VerificationPlan; p != nil {
		wf.VerificationPlan.Method = p.Method
		wf.VerificationPlan.SuccessCriteria = p.SuccessCriteria
		wf.VerificationPlan.Responsible = p.Responsible
		if wf.VerificationPlan.DueDate.IsZero() {
			wf.VerificationPlan.DueDate = p.DueDate
		}
	}
}

// rebaseActions replaces every patched action that still exists in stored
// (matched by id, then description) with its stored version.
func rebaseActions(stored, patched []model.CAPAAction) []model.CAPAAction {
	byID := make(map[string]model.CAPAAction, len(stored))
	byDesc := make(map[string]model.CAPAAction, len(stored))
	for _, a := range stored {
		byID[a.ID] = a
		byDesc[a.Description] = a
	}
	out := make([]model.CAPAAction, 0, len(patched))
	for _, a := range patched {
		if cur, ok := byID[a.ID]; ok && a.ID != "" {
			out = append(out, cur)
			continue
		}
		if cur, ok := byDesc[a.Description]; ok {
			out = append(out, cur)
			continue
		}
		out = append(out, a)
	}
	return out
}

func withIDs(actions []model.CAPAAction) []model.CAPAAction {
	out := make([]model.CAPAAction, len(actions))
	copy(out, actions)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

// describePlan renders the optimizable part of a workflow as text for diffing.
func describePlan(wf model.CAPAWorkflow) string {
	var b strings.Builder
	b.WriteString("Corrective actions:\n")
	for _, a := range wf.CorrectiveActions {
		fmt.Fprintf(&b, "- %s\n", a.Description)
	}
	b.WriteString("Preventive actions:\n")
	for _, a := range wf.PreventiveActions {
		fmt.Fprintf(&b, "- %s\n", a.Description)
	}
	fmt.Fprintf(&b, "Verification: %s\nSuccess criteria: %s\nResponsible: %s\n",
		wf.VerificationPlan.Method, wf.VerificationPlan.SuccessCriteria, wf.VerificationPlan.Responsible)
	return b.String()
}

// AttachFile uploads data and appends its URL to the workflow attachments.
func (s *CAPAService) AttachFile(ctx context.Context, id, filename, contentType string, data []byte) (model.CAPAWorkflow, error) {
	if s.storage == nil {
		return model.CAPAWorkflow{}, ErrAttachmentsDisabled
	}
	if _, err := s.workflows.Find(ctx, id); err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		return model.CAPAWorkflow{}, fmt.Errorf("%w: file name is required", ErrValidation)
	}

	key := fmt.Sprintf("capa/%s/%d-%s", id, s.now().Unix(), name)
	url, err := s.storage.Upload(ctx, key, contentType, data)
	if err != nil {
		return model.CAPAWorkflow{}, err
	}
	wf, err := s.workflows.Mutate(ctx, id, func(wf *model.CAPAWorkflow) error {
		wf.Attachments = append(wf.Attachments, url)
		wf.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return model.CAPAWorkflow{}, mapNotFound(err, ErrWorkflowNotFound)
	}
	log.Printf("[CAPAService.AttachFile] Attached %s to workflow %s", url, id)
	return wf, nil
}

// Metrics computes CAPAMetrics over the stored collection.
func (s *CAPAService) Metrics(ctx context.Context) (model.CAPAMetrics, error) {
	items, err := s.workflows.List(ctx)
	if err != nil {
		return model.CAPAMetrics{}, err
	}
	return CalculateMetrics(items, s.now()), nil
}

func (s *CAPAService) index(ctx context.Context, wf model.CAPAWorkflow) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexDocument(ctx, IndexCAPAWorkflows, wf.ID, wf); err != nil {
		log.Printf("[CAPAService.index] Skipping search index for %s: %v", wf.ID, err)
	}
}

func (s *CAPAService) notify(ctx context.Context, typ, title, message, link string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, typ, title, message, link)
	}
}

// mapNotFound replaces store.ErrNotFound with a domain error, keeping other errors intact.
func mapNotFound(err error, domain error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain, err)
	}
	return err
}
