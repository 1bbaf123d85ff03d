package services

import (
	"fmt"
	"time"

	model "github.com/Itish41/virtualbackroom/models"
)

// parseClock parses an "HH:MM" time of day.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrValidation, s)
	}
	return t.Hour(), t.Minute(), nil
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// monthlyAt returns the day-th of the given month at hh:mm, clamping day to the month length.
func monthlyAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	// Normalize month overflow before clamping.
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if n := daysIn(first.Year(), first.Month(), loc); day > n {
		day = n
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}

// CalculateNextRun returns the first occurrence of the task cadence strictly after now.
// Weekly tasks use DayOfWeek (0 = Sunday), monthly tasks DayOfMonth; both default to now's.
func CalculateNextRun(task model.ScheduledTask, now time.Time) (time.Time, error) {
	hour, minute, err := parseClock(task.Time)
	if err != nil {
		return time.Time{}, err
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)

	switch task.Frequency {
	case model.FrequencyDaily:
		if !today.After(now) {
			today = today.AddDate(0, 0, 1)
		}
		return today, nil

	case model.FrequencyWeekly:
		target := int(now.Weekday())
		if task.DayOfWeek != nil {
			target = *task.DayOfWeek
		}
		if target < 0 || target > 6 {
			return time.Time{}, fmt.Errorf("%w: dayOfWeek %d out of range 0-6", ErrValidation, target)
		}
		daysUntil := (target - int(now.Weekday()) + 7) % 7
		next := today.AddDate(0, 0, daysUntil)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil

	case model.FrequencyMonthly:
		day := now.Day()
		if task.DayOfMonth != nil {
			day = *task.DayOfMonth
		}
		if day < 1 || day > 31 {
			return time.Time{}, fmt.Errorf("%w: dayOfMonth %d out of range 1-31", ErrValidation, day)
		}
		next := monthlyAt(now.Year(), now.Month(), day, hour, minute, loc)
		if !next.After(now) {
			next = monthlyAt(now.Year(), now.Month()+1, day, hour, minute, loc)
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("%w: unsupported task frequency %q", ErrValidation, task.Frequency)
}

// NextScheduledAt returns when an email schedule should next fire.
// Cadences other than immediate and hourly are pinned to the schedule's HH:MM when set.
func NextScheduledAt(schedule model.EmailSchedule, now time.Time) (time.Time, error) {
	var next time.Time
	switch schedule.Frequency {
	case model.FrequencyImmediate:
		return now, nil
	case model.FrequencyHourly:
		return now.Truncate(time.Hour).Add(time.Hour), nil
	case model.FrequencyDaily:
		next = now.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		next = now.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		next = monthlyAt(now.Year(), now.Month()+1, now.Day(), now.Hour(), now.Minute(), now.Location())
		next = next.Add(time.Duration(now.Second())*time.Second + time.Duration(now.Nanosecond()))
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported email frequency %q", ErrValidation, schedule.Frequency)
	}

	if schedule.Time != "" {
		hour, minute, err := parseClock(schedule.Time)
		if err != nil {
			return time.Time{}, err
		}
		next = time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, next.Location())
	}
	return next, nil
}
