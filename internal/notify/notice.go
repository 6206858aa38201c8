package notify

import (
	"fmt"
	"strings"
)

// Notice kinds.
const (
	KindNewTask     = "new_task"
	KindChatMessage = "chat_message"
	KindTaskUpdate  = "task_update"
)

const messagePrefix = "[MISSION CONTROL]"

const defaultSender = "Operator"

// Notice describes a UI-side change the gateway should hear about. It is
// also the JSON payload of a notify_gateway job.
type Notice struct {
	Type        string `json:"type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Status      string `json:"status,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Text renders the natural-language message sent to the gateway.
func (n Notice) Text() string {
	switch n.Type {
	case KindNewTask:
		assigned := "Unassigned."
		if n.Assignee != "" {
			assigned = "Assigned to: " + n.Assignee
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s New task created: \"%s\". ", messagePrefix, n.Title)
		if n.Description != "" {
			b.WriteString(n.Description + " ")
		}
		fmt.Fprintf(&b, "Priority: %s. %s", n.Priority, assigned)
		return b.String()
	case KindChatMessage:
		sender := n.Sender
		if sender == "" {
			sender = defaultSender
		}
		return fmt.Sprintf("%s %s says: %s", messagePrefix, sender, n.Message)
	case KindTaskUpdate:
		return fmt.Sprintf("%s Task \"%s\" updated. New status: %s.", messagePrefix, n.Title, n.Status)
	default:
		return fmt.Sprintf("%s %s", messagePrefix, n.Message)
	}
}

// Valid reports whether n is of a known kind.
func (n Notice) Valid() bool {
	switch n.Type {
	case KindNewTask, KindChatMessage, KindTaskUpdate:
		return true
	}
	return false
}
