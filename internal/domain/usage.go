package domain

import "time"

// UsageMetrics stores the aggregate counters shown on the dashboard.
type UsageMetrics struct {
	UserID         string    `json:"userId"`
	Conversations  int       `json:"conversations"`
	TasksCompleted int       `json:"tasksCompleted"`
	FilesGenerated int       `json:"filesGenerated"`
	Automations    int       `json:"automations"`
	TimeSavedHours int       `json:"timeSavedHours"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UsageDelta is an increment applied atomically to a UsageMetrics row.
type UsageDelta struct {
	Conversations  int
	TasksCompleted int
	FilesGenerated int
	Automations    int
	TimeSavedHours int
}

// ActivityKind classifies dashboard activity entries.
type ActivityKind string

const (
	ActivityTaskCompleted   ActivityKind = "task_completed"
	ActivityFileGenerated   ActivityKind = "file_generated"
	ActivityAutomationSetup ActivityKind = "automation_setup"
)

// Activity is a single entry of the dashboard's recent activity feed.
type Activity struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	AssistantID string       `json:"assistantId"`
	Kind        ActivityKind `json:"kind"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"createdAt"`
}
