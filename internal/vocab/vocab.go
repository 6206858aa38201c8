// Package vocab translates the agent gateway's status and activity
// vocabularies into the board's canonical enums and back.
//
// Every function here is total: unknown input maps to a fixed fallback.
// Lookups are exact and case-sensitive.
package vocab

import "github.com/kalambet/missionctl/internal/storage"

var taskStatuses = map[string]storage.TaskStatus{
	"active":      storage.StatusInProgress,
	"queued":      storage.StatusInbox,
	"completed":   storage.StatusDone,
	"blocked":     storage.StatusBlocked,
	"inbox":       storage.StatusInbox,
	"in_progress": storage.StatusInProgress,
	"review":      storage.StatusReview,
	"done":        storage.StatusDone,
}

var agentStatuses = map[string]storage.AgentStatus{
	"online":  storage.AgentOnline,
	"busy":    storage.AgentBusy,
	"idle":    storage.AgentOnline,
	"offline": storage.AgentOffline,
}

var activityTypes = map[string]storage.ActivityType{
	"task_created":   storage.ActivityTaskCreated,
	"task_completed": storage.ActivityTaskUpdated,
	"task_updated":   storage.ActivityTaskUpdated,
	"agent_assigned": storage.ActivityTaskUpdated,
	"status_change":  storage.ActivityTaskUpdated,
	"message":        storage.ActivityMessageSent,
}

// Used by the read endpoints. Statuses not listed are reported verbatim.
var externalTaskStatuses = map[storage.TaskStatus]string{
	storage.StatusInProgress: "active",
	storage.StatusInbox:      "queued",
	storage.StatusDone:       "completed",
}

// TaskStatus maps an external task status to the canonical one, falling
// back to inbox.
func TaskStatus(ext string) storage.TaskStatus {
	if s, ok := taskStatuses[ext]; ok {
		return s
	}
	return storage.StatusInbox
}

// AgentStatus maps an external agent status, falling back to online.
func AgentStatus(ext string) storage.AgentStatus {
	if s, ok := agentStatuses[ext]; ok {
		return s
	}
	return storage.AgentOnline
}

// ActivityType maps an external activity type, falling back to task_updated.
func ActivityType(ext string) storage.ActivityType {
	if t, ok := activityTypes[ext]; ok {
		return t
	}
	return storage.ActivityTaskUpdated
}

// ExternalTaskStatus is the inverse table used when serving tasks back to
// the gateway.
func ExternalTaskStatus(s storage.TaskStatus) string {
	if ext, ok := externalTaskStatuses[s]; ok {
		return ext
	}
	return string(s)
}

// Priority reports whether ext is a known priority.
func Priority(ext string) (storage.Priority, bool) {
	switch p := storage.Priority(ext); p {
	case storage.PriorityLow, storage.PriorityMedium, storage.PriorityHigh:
		return p, true
	}
	return "", false
}

// IsDeliverableType reports whether t is one of the accepted deliverable kinds.
func IsDeliverableType(t string) bool {
	for _, dt := range storage.DeliverableTypes {
		if string(dt) == t {
			return true
		}
	}
	return false
}
