package vocab

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/kalambet/missionctl/internal/storage"
)

// TestProperty_TaskStatusRoundTrip checks that the four gateway statuses
// survive a trip to the canonical vocabulary and back.
func TestProperty_TaskStatusRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ext := rapid.SampledFrom([]string{"active", "queued", "completed", "blocked"}).Draw(rt, "ext")
		if got := ExternalTaskStatus(TaskStatus(ext)); got != ext {
			rt.Fatalf("round trip %q -> %q -> %q", ext, TaskStatus(ext), got)
		}
	})
}

// TestProperty_NormalizersAreTotal checks every normalizer returns a member
// of its canonical set for arbitrary input.
func TestProperty_NormalizersAreTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := rapid.String().Draw(rt, "input")

		status := TaskStatus(in)
		found := false
		for _, s := range storage.TaskStatuses {
			if s == status {
				found = true
			}
		}
		if !found {
			rt.Fatalf("TaskStatus(%q) = %q, not canonical", in, status)
		}

		switch AgentStatus(in) {
		case storage.AgentOnline, storage.AgentBusy, storage.AgentOffline:
		default:
			rt.Fatalf("AgentStatus(%q) not canonical", in)
		}

		switch ActivityType(in) {
		case storage.ActivityTaskCreated, storage.ActivityTaskUpdated, storage.ActivityMessageSent:
		default:
			rt.Fatalf("ActivityType(%q) not in remap range", in)
		}
	})
}
