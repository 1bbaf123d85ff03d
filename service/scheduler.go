package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/google/uuid"
)

// Job names.
const (
	JobCAPAOverdueSweep     = "capa-overdue-sweep"
	JobMilestoneStatusSweep = "milestone-status-sweep"
	JobWeeklyDigest         = "weekly-digest"
)

// JobFunc is the work behind a scheduled task.
type JobFunc func(ctx context.Context) error

// TickResult reports one scheduler pass.
type TickResult struct {
	Dispatch DispatchResult `json:"dispatch"`
	Ran      []string       `json:"ran"`
	Missed   []string       `json:"missed"`
	Failed   []string       `json:"failed"`
}

// Scheduler runs persisted cadence tasks independent of any dashboard being open.
// Run state lives in the store, so a restarted process resumes where it left off.
type Scheduler struct {
	tasks *store.Collection[model.ScheduledTask]
	email *EmailService
	tick  time.Duration
	now   func() time.Time

	jobsMu sync.RWMutex
	jobs   map[string]JobFunc

	// runMu serializes passes triggered by the ticker and by the API.
	runMu sync.Mutex
}

func NewScheduler(s store.Store, email *EmailService, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		tasks: store.NewCollection(s, "scheduled-tasks", 1, func(t model.ScheduledTask) string { return t.ID }),
		email: email,
		tick:  tick,
		now:   time.Now,
		jobs:  map[string]JobFunc{},
	}
}

// Register binds a job name to its implementation.
func (s *Scheduler) Register(name string, fn JobFunc) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[name] = fn
}

func (s *Scheduler) job(name string) (JobFunc, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	fn, ok := s.jobs[name]
	return fn, ok
}

// RegisterDefaultJobs wires the built-in sweeps and the weekly digest.
func RegisterDefaultJobs(s *Scheduler, capa *CAPAService, milestones *MilestoneService, email *EmailService) {
	s.Register(JobCAPAOverdueSweep, func(ctx context.Context) error {
		_, err := capa.RefreshOverdue(ctx)
		return err
	})
	s.Register(JobMilestoneStatusSweep, func(ctx context.Context) error {
		_, err := milestones.RefreshStatuses(ctx)
		return err
	})
	s.Register(JobWeeklyDigest, func(ctx context.Context) error {
		metrics, err := capa.Metrics(ctx)
		if err != nil {
			return err
		}
		_, err = email.QueueWeeklyDigest(ctx, metrics)
		return err
	})
}

func intPtr(v int) *int { return &v }

// EnsureDefaultTasks creates a task for each built-in job that has none.
func (s *Scheduler) EnsureDefaultTasks(ctx context.Context) error {
	defaults := []model.ScheduledTask{
		{Name: "CAPA overdue sweep", Job: JobCAPAOverdueSweep, Frequency: model.FrequencyDaily, Time: "01:00", Enabled: true},
		{Name: "Milestone status sweep", Job: JobMilestoneStatusSweep, Frequency: model.FrequencyDaily, Time: "01:15", Enabled: true},
		{Name: "Weekly compliance digest", Job: JobWeeklyDigest, Frequency: model.FrequencyWeekly, Time: "08:00", DayOfWeek: intPtr(int(time.Monday)), Enabled: true},
	}
	existing, err := s.tasks.List(ctx)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, t := range existing {
		have[t.Job] = true
	}
	for _, t := range defaults {
		if have[t.Job] {
			continue
		}
		if _, err := s.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("seeding task %s: %w", t.Job, err)
		}
		log.Printf("[Scheduler.EnsureDefaultTasks] Seeded task %q", t.Name)
	}
	return nil
}

// CreateTask validates and stores a task with its first nextRun.
func (s *Scheduler) CreateTask(ctx context.Context, t model.ScheduledTask) (model.ScheduledTask, error) {
	if strings.TrimSpace(t.Name) == "" {
		return model.ScheduledTask{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, ok := s.job(t.Job); !ok {
		return model.ScheduledTask{}, fmt.Errorf("%w: unknown job %q", ErrValidation, t.Job)
	}
	now := s.now().UTC()
	next, err := CalculateNextRun(t, now)
	if err != nil {
		return model.ScheduledTask{}, err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.NextRun = &next
	t.LastRun = nil
	t.MissedRuns = 0
	t.LastError = ""
	if err := s.tasks.Insert(ctx, t); err != nil {
		return model.ScheduledTask{}, err
	}
	return t, nil
}

func (s *Scheduler) ListTasks(ctx context.Context) ([]model.ScheduledTask, error) {
	return s.tasks.List(ctx)
}

// SetEnabled pauses or resumes a task. Resuming recomputes nextRun from now,
// so time spent paused is not counted as missed runs.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (model.ScheduledTask, error) {
	now := s.now().UTC()
	task, err := s.tasks.Mutate(ctx, id, func(t *model.ScheduledTask) error {
		if enabled && !t.Enabled {
			next, err := CalculateNextRun(*t, now)
			if err != nil {
				return err
			}
			t.NextRun = &next
			t.LastError = ""
		}
		t.Enabled = enabled
		return nil
	})
	if err != nil {
		return model.ScheduledTask{}, mapNotFound(err, ErrTaskNotFound)
	}
	log.Printf("[Scheduler.SetEnabled] Task %q enabled=%t", task.Name, enabled)
	return task, nil
}

// Run executes a pass immediately, so misses during downtime are caught on start,
// then one pass per tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[Scheduler.Run] Starting with tick %s", s.tick)
	if _, err := s.RunOnce(ctx); err != nil {
		log.Printf("[Scheduler.Run] Initial pass failed: %v", err)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler.Run] Stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Printf("[Scheduler.Run] Pass failed: %v", err)
			}
		}
	}
}

// RunOnce dispatches due email, then runs every enabled task whose nextRun has passed.
// A task more than one tick late is counted as missed and caught up with a single run.
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := TickResult{Ran: []string{}, Missed: []string{}, Failed: []string{}}
	if s.email != nil {
		dispatch, err := s.email.Dispatch(ctx)
		if err != nil {
			log.Printf("[Scheduler.RunOnce] Email dispatch failed: %v", err)
		}
		result.Dispatch = dispatch
	}

	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return result, err
	}
	now := s.now().UTC()
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if t.NextRun == nil {
			s.reschedule(ctx, t, now)
			continue
		}
		if t.NextRun.After(now) {
			continue
		}

		missed := now.Sub(*t.NextRun) > s.tick && (t.LastRun == nil || t.LastRun.Before(*t.NextRun))
		if missed {
			log.Printf("[Scheduler.RunOnce] Task %q missed its run at %s, catching up", t.Name, t.NextRun.Format(time.RFC3339))
			result.Missed = append(result.Missed, t.Name)
		}

		runErr := s.execute(ctx, t)
		if runErr != nil {
			log.Printf("[Scheduler.RunOnce] Task %q failed: %v", t.Name, runErr)
			result.Failed = append(result.Failed, t.Name)
		} else {
			result.Ran = append(result.Ran, t.Name)
		}

		if err := s.record(ctx, t, now, missed, runErr); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Scheduler) execute(ctx context.Context, t model.ScheduledTask) (err error) {
	fn, ok := s.job(t.Job)
	if !ok {
		return fmt.Errorf("no job registered for %q", t.Job)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", t.Job, r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) record(ctx context.Context, t model.ScheduledTask, now time.Time, missed bool, runErr error) error {
	next, nextErr := CalculateNextRun(t, now)
	_, err := s.tasks.Mutate(ctx, t.ID, func(task *model.ScheduledTask) error {
		ran := now
		task.LastRun = &ran
		if nextErr == nil {
			task.NextRun = &next
		} else {
			task.Enabled = false
			task.LastError = nextErr.Error()
			return nil
		}
		if missed {
			task.MissedRuns++
		}
		task.LastError = ""
		if runErr != nil {
			task.LastError = runErr.Error()
		}
		return nil
	})
	if err != nil {
		log.Printf("[Scheduler.record] Error saving run of %q: %v", t.Name, err)
	}
	return err
}

func (s *Scheduler) reschedule(ctx context.Context, t model.ScheduledTask, now time.Time) {
	next, err := CalculateNextRun(t, now)
	if err != nil {
		log.Printf("[Scheduler.reschedule] Task %q has an invalid cadence: %v", t.Name, err)
		return
	}
	if _, err := s.tasks.Mutate(ctx, t.ID, func(task *model.ScheduledTask) error {
		task.NextRun = &next
		return nil
	}); err != nil {
		log.Printf("[Scheduler.reschedule] Error saving nextRun of %q: %v", t.Name, err)
	}
}
