package models

import "time"

// Notification levels shown by the dashboard.
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
	NotificationInfo    = "info"
	NotificationWarning = "warning"
)

// Notification is a fire-and-forget message pushed to connected dashboards.
type Notification struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Link    string    `json:"link,omitempty"`
	Read    bool      `json:"read"`
	At      time.Time `json:"at"`
}
