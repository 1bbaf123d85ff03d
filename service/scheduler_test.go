package services

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
	"github.com/Itish41/virtualbackroom/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(mem store.Store, email *EmailService) *Scheduler {
	s := NewScheduler(mem, email, time.Minute)
	s.now = fixedClock
	return s
}

// setNextRun moves a task's nextRun, simulating time passing while the process was down.
func setNextRun(t *testing.T, s *Scheduler, id string, next time.Time) {
	t.Helper()
	_, err := s.tasks.Mutate(context.Background(), id, func(task *model.ScheduledTask) error {
		task.NextRun = &next
		return nil
	})
	require.NoError(t, err)
}

func TestScheduler_CreateTask(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	s.Register("noop", func(context.Context) error { return nil })
	ctx := context.Background()

	task, err := s.CreateTask(ctx, model.ScheduledTask{Name: "Nightly", Job: "noop", Frequency: model.FrequencyDaily, Time: "09:00", Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, task.NextRun)
	assert.Equal(t, time.Date(2025, time.March, 6, 9, 0, 0, 0, time.UTC), *task.NextRun)

	_, err = s.CreateTask(ctx, model.ScheduledTask{Name: "Nightly", Job: "unregistered", Frequency: model.FrequencyDaily, Time: "09:00"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.CreateTask(ctx, model.ScheduledTask{Name: "Nightly", Job: "noop", Frequency: "hourly", Time: "09:00"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.CreateTask(ctx, model.ScheduledTask{Job: "noop", Frequency: model.FrequencyDaily, Time: "09:00"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestScheduler_TaskTimesAreUTC(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	s.Register("noop", func(context.Context) error { return nil })
	// 22:00 on March 4 in UTC-5 is already 03:00 on March 5 in UTC.
	s.now = func() time.Time { return time.Date(2025, time.March, 4, 22, 0, 0, 0, time.FixedZone("EST", -5*60*60)) }

	task, err := s.CreateTask(context.Background(), model.ScheduledTask{Name: "Sweep", Job: "noop", Frequency: model.FrequencyDaily, Time: "01:00", Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, task.NextRun)
	assert.Equal(t, time.UTC, task.NextRun.Location())
	assert.Equal(t, time.Date(2025, time.March, 6, 1, 0, 0, 0, time.UTC), *task.NextRun)
}

func TestScheduler_RunOnce(t *testing.T) {
	tests := []struct {
		name       string
		job        JobFunc
		nextRun    time.Time
		assertions func(t *testing.T, res TickResult, task model.ScheduledTask, calls int)
	}{
		{
			name:    "not yet due",
			job:     func(context.Context) error { return nil },
			nextRun: FixedTime.Add(time.Minute),
			assertions: func(t *testing.T, res TickResult, task model.ScheduledTask, calls int) {
				assert.Equal(t, 0, calls)
				assert.Empty(t, res.Ran)
				assert.Nil(t, task.LastRun)
			},
		},
		{
			name:    "due within the tick",
			job:     func(context.Context) error { return nil },
			nextRun: FixedTime.Add(-30 * time.Second),
			assertions: func(t *testing.T, res TickResult, task model.ScheduledTask, calls int) {
				assert.Equal(t, 1, calls)
				assert.Equal(t, []string{"Sweep"}, res.Ran)
				assert.Empty(t, res.Missed)
				assert.Equal(t, 0, task.MissedRuns)
				require.NotNil(t, task.LastRun)
				assert.Equal(t, FixedTime, *task.LastRun)
				assert.Equal(t, time.Date(2025, time.March, 6, 9, 0, 0, 0, time.UTC), *task.NextRun)
			},
		},
		{
			name:    "missed during downtime runs once",
			job:     func(context.Context) error { return nil },
			nextRun: FixedTime.AddDate(0, 0, -3),
			assertions: func(t *testing.T, res TickResult, task model.ScheduledTask, calls int) {
				assert.Equal(t, 1, calls)
				assert.Equal(t, []string{"Sweep"}, res.Missed)
				assert.Equal(t, 1, task.MissedRuns)
				assert.True(t, task.NextRun.After(FixedTime))
			},
		},
		{
			name:    "job error is recorded",
			job:     func(context.Context) error { return errors.New("store offline") },
			nextRun: FixedTime.Add(-time.Second),
			assertions: func(t *testing.T, res TickResult, task model.ScheduledTask, calls int) {
				assert.Equal(t, 1, calls)
				assert.Equal(t, []string{"Sweep"}, res.Failed)
				assert.Equal(t, "store offline", task.LastError)
				assert.True(t, task.NextRun.After(FixedTime))
			},
		},
		{
			name:    "job panic is recovered",
			job:     func(context.Context) error { panic("nil map") },
			nextRun: FixedTime.Add(-time.Second),
			assertions: func(t *testing.T, res TickResult, task model.ScheduledTask, calls int) {
				assert.Equal(t, []string{"Sweep"}, res.Failed)
				assert.Contains(t, task.LastError, "panicked")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(store.NewMemoryStore(), nil)
			calls := 0
			s.Register("sweep", func(ctx context.Context) error {
				calls++
				return tt.job(ctx)
			})
			ctx := context.Background()
			task, err := s.CreateTask(ctx, model.ScheduledTask{Name: "Sweep", Job: "sweep", Frequency: model.FrequencyDaily, Time: "09:00", Enabled: true})
			require.NoError(t, err)
			setNextRun(t, s, task.ID, tt.nextRun)

			res, err := s.RunOnce(ctx)
			require.NoError(t, err)

			stored, err := s.tasks.Find(ctx, task.ID)
			require.NoError(t, err)
			tt.assertions(t, res, stored, calls)
		})
	}
}

func TestScheduler_MissedRunIsNotCountedTwice(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	calls := 0
	s.Register("sweep", func(context.Context) error { calls++; return nil })
	ctx := context.Background()
	task, err := s.CreateTask(ctx, model.ScheduledTask{Name: "Sweep", Job: "sweep", Frequency: model.FrequencyDaily, Time: "09:00", Enabled: true})
	require.NoError(t, err)
	setNextRun(t, s, task.ID, FixedTime.AddDate(0, 0, -5))

	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)

	stored, err := s.tasks.Find(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, stored.MissedRuns)
}

func TestScheduler_DisabledTasksAreSkipped(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	calls := 0
	s.Register("sweep", func(context.Context) error { calls++; return nil })
	ctx := context.Background()
	task, err := s.CreateTask(ctx, model.ScheduledTask{Name: "Sweep", Job: "sweep", Frequency: model.FrequencyDaily, Time: "09:00"})
	require.NoError(t, err)
	setNextRun(t, s, task.ID, FixedTime.Add(-time.Hour))

	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestScheduler_DefaultJobs(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	email := NewEmailService(mem, LogSender{}, nil)
	email.now = fixedClock
	capa := NewCAPAService(mem, newTestGenerator(DisabledGenerator{}))
	capa.now = fixedClock
	milestones := NewMilestoneService(mem)
	milestones.now = fixedClock

	s := newTestScheduler(mem, email)
	RegisterDefaultJobs(s, capa, milestones, email)
	require.NoError(t, s.EnsureDefaultTasks(ctx))
	require.NoError(t, s.EnsureDefaultTasks(ctx))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	// Wednesday 10:00: the digest is next due Monday 08:00.
	for _, task := range tasks {
		if task.Job == JobWeeklyDigest {
			assert.Equal(t, time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC), *task.NextRun)
		}
		setNextRun(t, s, task.ID, FixedTime.Add(-time.Second))
	}

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Ran, 3)
	assert.Empty(t, res.Failed)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestScheduler_SetEnabled(t *testing.T) {
	s := newTestScheduler(store.NewMemoryStore(), nil)
	calls := 0
	s.Register("sweep", func(context.Context) error { calls++; return nil })
	ctx := context.Background()
	task, err := s.CreateTask(ctx, model.ScheduledTask{Name: "Sweep", Job: "sweep", Frequency: model.FrequencyDaily, Time: "09:00"})
	require.NoError(t, err)
	setNextRun(t, s, task.ID, FixedTime.AddDate(0, 0, -10))

	resumed, err := s.SetEnabled(ctx, task.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.Enabled)
	assert.True(t, resumed.NextRun.After(FixedTime))

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Missed)
	assert.Equal(t, 0, calls)

	_, err = s.SetEnabled(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
