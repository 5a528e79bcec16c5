// Package records is the task, event and deal collaborator the assistant
// reads and mutates by reference. Entities live in per-user docstore
// collections.
package records

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Open reports whether the task still needs attention.
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

// ParseTaskStatus accepts the status names the completion service tends to
// produce ("done", "in progress") and reports false for anything else.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, " ", "_"))) {
	case "pending", "todo", "open":
		return TaskPending, true
	case "in_progress", "started", "doing":
		return TaskInProgress, true
	case "completed", "complete", "done", "finished":
		return TaskCompleted, true
	case "cancelled", "canceled":
		return TaskCancelled, true
	}
	return "", false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps free text to a priority, defaulting to medium.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "urgent", "critical":
		return PriorityHigh
	case "low":
		return PriorityLow
	}
	return PriorityMedium
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) MatchTitle() string { return t.Title }

// Overdue reports whether an open task is past its due date.
func (t Task) Overdue(now time.Time) bool {
	return t.Status.Open() && t.DueDate != nil && t.DueDate.Before(now)
}

type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *Priority
	DueDate     *time.Time
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil && p.DueDate == nil
}

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCancelled EventStatus = "cancelled"
)

// DefaultEventDuration applies when an event is created without an end time.
const DefaultEventDuration = 60 * time.Minute

type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Start       time.Time   `json:"startTime"`
	End         time.Time   `json:"endTime"`
	Status      EventStatus `json:"status"`
	Attendees   []string    `json:"attendees,omitempty"`
	ExternalID  string      `json:"externalId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (e Event) MatchTitle() string { return e.Title }

type EventPatch struct {
	Title       *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
	Status      *EventStatus
	ExternalID  *string
}

func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Location == nil &&
		p.Start == nil && p.End == nil && p.Status == nil && p.ExternalID == nil
}

type DealStatus string

const (
	DealActive DealStatus = "active"
	DealWon    DealStatus = "won"
	DealLost   DealStatus = "lost"
)

type Deal struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Stage     string     `json:"stage"`
	Value     float64    `json:"value"`
	Status    DealStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Identity is how the agent presents itself to one user.
type Identity struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
