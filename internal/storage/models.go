package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type TaskStatus string

const (
	StatusInbox      TaskStatus = "inbox"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
)

// TaskStatuses lists every canonical task status in board column order.
var TaskStatuses = []TaskStatus{StatusInbox, StatusInProgress, StatusReview, StatusDone, StatusBlocked}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

type ActivityType string

const (
	ActivityTaskCreated        ActivityType = "task_created"
	ActivityTaskUpdated        ActivityType = "task_updated"
	ActivityMessageSent        ActivityType = "message_sent"
	ActivityDeliverableCreated ActivityType = "deliverable_created"
)

type DeliverableType string

// DeliverableTypes is the closed set of accepted deliverable kinds.
var DeliverableTypes = []DeliverableType{
	"post", "tweet", "article", "code", "design", "report", "email", "research",
}

type CommentType string

const (
	CommentPlain        CommentType = "comment"
	CommentStatusChange CommentType = "status_change"
	CommentAssignment   CommentType = "assignment"
)

// Timestamps on board records are Unix milliseconds.

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Assignee    string     `json:"assignee,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
}

// TaskPatch is a sparse update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *Priority
	Assignee    *string
	UpdatedAt   int64
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	t.UpdatedAt = p.UpdatedAt
	return t
}

type Agent struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Role       string      `json:"role"`
	Status     AgentStatus `json:"status"`
	LastSeenAt int64       `json:"lastSeenAt"`
}

type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Agent     string       `json:"agent"`
	TaskID    string       `json:"taskId,omitempty"`
	Message   string       `json:"message"`
	CreatedAt int64        `json:"createdAt"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	Agent     string `json:"agent"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

type Deliverable struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Type      DeliverableType `json:"type"`
	TaskID    string          `json:"taskId,omitempty"`
	Agent     string          `json:"agent"`
	CreatedAt int64           `json:"createdAt"`
}

type Comment struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"taskId,omitempty"`
	Agent     string      `json:"agent"`
	Content   string      `json:"content"`
	Type      CommentType `json:"type"`
	CreatedAt int64       `json:"createdAt"`
}

// TaskDetail is a task together with its comments and deliverables.
type TaskDetail struct {
	Task
	Comments     []Comment     `json:"comments"`
	Deliverables []Deliverable `json:"deliverables"`
}

type Stats struct {
	Inbox        int `json:"inbox"`
	InProgress   int `json:"inProgress"`
	Review       int `json:"review"`
	Completed    int `json:"completed"`
	Blocked      int `json:"blocked"`
	Total        int `json:"total"`
	AgentsOnline int `json:"agentsOnline"`
	AgentsTotal  int `json:"agentsTotal"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
