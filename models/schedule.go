package models

import "time"

// ScheduledTask is a cadence-driven job persisted by the scheduler.
type ScheduledTask struct {
	ID         string     `json:"id"`
	Name       string     `json:"name" binding:"required"`
	Job        string     `json:"job" binding:"required"`
	Frequency  string     `json:"frequency" binding:"required"`
	Time       string     `json:"time" binding:"required"` // HH:MM in UTC
	DayOfWeek  *int       `json:"dayOfWeek,omitempty"`     // 0 = Sunday
	DayOfMonth *int       `json:"dayOfMonth,omitempty"`    // 1-31, clamped to month length
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	MissedRuns int        `json:"missedRuns"`
	LastError  string     `json:"lastError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
