package models

import "time"

// MilestoneStatus is derived from progress and dates.
type MilestoneStatus string

const (
	MilestoneNotStarted MilestoneStatus = "not-started"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneAtRisk     MilestoneStatus = "at-risk"
	MilestoneDelayed    MilestoneStatus = "delayed"
)

// Milestone is a target-date deliverable.
type Milestone struct {
	ID           string          `json:"id"`
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Priority     Priority        `json:"priority"`
	Status       MilestoneStatus `json:"status"`
	Progress     int             `json:"progress"`
	TargetDate   time.Time       `json:"targetDate" binding:"required"`
	Owner        string          `json:"owner,omitempty"`
	Dependencies []string        `json:"dependencies"`
	Frameworks   []string        `json:"frameworks"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
