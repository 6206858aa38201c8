package webhook

import (
	"encoding/json"
	"strconv"
)

// Payload is the decoded event body. Field names vary between gateway
// versions, so every read goes through an ordered alias list below.
type Payload map[string]any

// Alias lists, first present wins.
var (
	fieldID          = []string{"id"}
	fieldTitle       = []string{"title"}
	fieldDescription = []string{"description", "notes"}
	fieldStatus      = []string{"status"}
	fieldPriority    = []string{"priority"}
	fieldAssignee    = []string{"assignee", "assignedAgent"}
	fieldTaskID      = []string{"taskId"}
	fieldType        = []string{"type"}
	fieldMessage     = []string{"message"}

	fieldAgentName        = []string{"name", "id"}
	fieldActivityAgent    = []string{"agentId", "agent"}
	fieldChatAgent        = []string{"agent", "agentId", "name"}
	fieldChatContent      = []string{"content", "message"}
	fieldDeliverableAgent = []string{"agent", "agentId"}
	fieldContent          = []string{"content"}
	fieldCommentAgent     = []string{"agent", "agentId"}
)

// String returns the first alias holding a string or number. Null, boolean
// and structured values are skipped.
func (p Payload) String(aliases ...string) (string, bool) {
	for _, key := range aliases {
		v, ok := p[key]
		if !ok || v == nil {
			continue
		}
		switch tv := v.(type) {
		case string:
			return tv, true
		case float64:
			return strconv.FormatFloat(tv, 'f', -1, 64), true
		case json.Number:
			return tv.String(), true
		case int:
			return strconv.Itoa(tv), true
		case int64:
			return strconv.FormatInt(tv, 10), true
		}
	}
	return "", false
}

// StringOr is String with a default for absent or empty values.
func (p Payload) StringOr(def string, aliases ...string) string {
	if s, ok := p.String(aliases...); ok && s != "" {
		return s
	}
	return def
}

// Flatten merges a nested "updates" object into a fresh payload. Keys at the
// top level take precedence over nested ones.
func (p Payload) Flatten() Payload {
	nested, ok := p["updates"].(map[string]any)
	if !ok {
		return p
	}
	out := make(Payload, len(p)+len(nested))
	for k, v := range nested {
		out[k] = v
	}
	for k, v := range p {
		if k == "updates" {
			continue
		}
		out[k] = v
	}
	return out
}
