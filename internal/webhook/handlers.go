package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/missionctl/internal/storage"
	"github.com/kalambet/missionctl/internal/vocab"
)

const systemActor = "System"

const commentPreviewRunes = 100

// upsertTask updates when the payload carries an id and creates otherwise.
func (d *Dispatcher) upsertTask(ctx context.Context, p Payload) (Result, error) {
	if id, ok := p.String(fieldID...); ok && id != "" {
		return d.updateTask(ctx, p)
	}
	return d.createTask(ctx, p.Flatten())
}

func (d *Dispatcher) createTask(ctx context.Context, p Payload) (Result, error) {
	title := strings.TrimSpace(p.StringOr("", fieldTitle...))
	if title == "" {
		return Result{}, validationf("title is required")
	}

	now := d.now().UnixMilli()
	task := storage.Task{
		ID:          d.newID(),
		Title:       title,
		Description: p.StringOr("", fieldDescription...),
		Status:      vocab.TaskStatus(p.StringOr("", fieldStatus...)),
		Priority:    storage.PriorityMedium,
		Assignee:    p.StringOr("", fieldAssignee...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if pr, ok := vocab.Priority(p.StringOr("", fieldPriority...)); ok {
		task.Priority = pr
	}

	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		return tx.InsertActivity(ctx, storage.Activity{
			ID:        d.newID(),
			Type:      storage.ActivityTaskCreated,
			Agent:     orSystem(task.Assignee),
			TaskID:    task.ID,
			Message:   "Created task: " + task.Title,
			CreatedAt: now,
		})
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("task", task.ID, now)
	return Result{Action: "created", ID: task.ID}, nil
}

// updateTask applies a sparse patch. Only fields present in the payload are
// written; updatedAt always moves forward.
func (d *Dispatcher) updateTask(ctx context.Context, p Payload) (Result, error) {
	p = p.Flatten()
	id, _ := p.String(fieldID...)
	if id == "" {
		return Result{}, validationf("id is required")
	}

	var patch storage.TaskPatch
	if v, ok := p.String(fieldTitle...); ok {
		title := strings.TrimSpace(v)
		if title == "" {
			return Result{}, validationf("title must not be empty")
		}
		patch.Title = &title
	}
	if v, ok := p.String(fieldDescription...); ok {
		patch.Description = &v
	}
	if v, ok := p.String(fieldStatus...); ok {
		s := vocab.TaskStatus(v)
		patch.Status = &s
	}
	if v, ok := p.String(fieldPriority...); ok {
		if pr, known := vocab.Priority(v); known {
			patch.Priority = &pr
		}
	}
	if v, ok := p.String(fieldAssignee...); ok {
		patch.Assignee = &v
	}

	now := d.now().UnixMilli()
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		prev, err := tx.GetTask(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("loading task %s: %w", id, err)
		}

		patch.UpdatedAt = max(now, prev.UpdatedAt+1)
		if err := tx.PatchTask(ctx, id, patch); err != nil {
			return fmt.Errorf("patching task %s: %w", id, err)
		}

		return tx.InsertActivity(ctx, storage.Activity{
			ID:        d.newID(),
			Type:      storage.ActivityTaskUpdated,
			Agent:     updateActor(patch, prev),
			TaskID:    id,
			Message:   updateMessage(patch, prev),
			CreatedAt: patch.UpdatedAt,
		})
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("task", id, now)
	return Result{Action: "updated", ID: id}, nil
}

// updateMessage prefers a status wording, then an assignment wording.
func updateMessage(patch storage.TaskPatch, prev storage.Task) string {
	switch {
	case patch.Status != nil:
		return fmt.Sprintf("Status → %s: %s", *patch.Status, prev.Title)
	case patch.Assignee != nil && *patch.Assignee != "":
		return fmt.Sprintf("Assigned %s to: %s", *patch.Assignee, prev.Title)
	default:
		return "Updated: " + prev.Title
	}
}

func updateActor(patch storage.TaskPatch, prev storage.Task) string {
	if patch.Assignee != nil && *patch.Assignee != "" {
		return *patch.Assignee
	}
	return orSystem(prev.Assignee)
}

// agentStatus finds or creates the agent by its unique name.
func (d *Dispatcher) agentStatus(ctx context.Context, p Payload) (Result, error) {
	name := strings.TrimSpace(p.StringOr("", fieldAgentName...))
	if name == "" {
		return Result{}, validationf("name is required")
	}
	status := vocab.AgentStatus(p.StringOr("", fieldStatus...))
	now := d.now().UnixMilli()

	action := "updated"
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		inserted, err := tx.InsertAgentIfAbsent(ctx, storage.Agent{
			ID:         d.newID(),
			Name:       name,
			Role:       "Agent",
			Status:     status,
			LastSeenAt: now,
		})
		if err != nil {
			return fmt.Errorf("inserting agent %q: %w", name, err)
		}
		if inserted {
			action = "created"
			return nil
		}
		return tx.PatchAgentStatus(ctx, name, status, now)
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("agent", name, now)
	return Result{Action: action, Name: name, Status: string(status)}, nil
}

func (d *Dispatcher) appendActivity(ctx context.Context, p Payload) (Result, error) {
	message := p.StringOr("", fieldMessage...)
	if message == "" {
		return Result{}, validationf("message is required")
	}

	now := d.now().UnixMilli()
	a := storage.Activity{
		ID:        d.newID(),
		Type:      vocab.ActivityType(p.StringOr("", fieldType...)),
		Agent:     p.StringOr(systemActor, fieldActivityAgent...),
		TaskID:    p.StringOr("", fieldTaskID...),
		Message:   message,
		CreatedAt: now,
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertActivity(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("activity", a.ID, now)
	return Result{ID: a.ID}, nil
}

// postChat appends to the squad chat. Chat has its own feed, so no activity
// entry is written.
func (d *Dispatcher) postChat(ctx context.Context, p Payload) (Result, error) {
	content := p.StringOr("", fieldChatContent...)
	if content == "" {
		return Result{}, validationf("content is required")
	}

	now := d.now().UnixMilli()
	m := storage.ChatMessage{
		ID:        d.newID(),
		Agent:     p.StringOr(systemActor, fieldChatAgent...),
		Content:   content,
		CreatedAt: now,
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertChatMessage(ctx, m)
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("chat", m.ID, now)
	return Result{ID: m.ID}, nil
}

func (d *Dispatcher) addDeliverable(ctx context.Context, p Payload) (Result, error) {
	title := strings.TrimSpace(p.StringOr("", fieldTitle...))
	if title == "" {
		return Result{}, validationf("title is required")
	}
	content := p.StringOr("", fieldContent...)
	if content == "" {
		return Result{}, validationf("content is required")
	}
	kind := p.StringOr("report", fieldType...)
	if !vocab.IsDeliverableType(kind) {
		return Result{}, validationf("unsupported deliverable type %q", kind)
	}

	now := d.now().UnixMilli()
	del := storage.Deliverable{
		ID:        d.newID(),
		Title:     title,
		Content:   content,
		Type:      storage.DeliverableType(kind),
		TaskID:    p.StringOr("", fieldTaskID...),
		Agent:     p.StringOr(systemActor, fieldDeliverableAgent...),
		CreatedAt: now,
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertDeliverable(ctx, del); err != nil {
			return fmt.Errorf("inserting deliverable: %w", err)
		}
		return tx.InsertActivity(ctx, storage.Activity{
			ID:        d.newID(),
			Type:      storage.ActivityDeliverableCreated,
			Agent:     del.Agent,
			TaskID:    del.TaskID,
			Message:   "Deliverable added: " + del.Title,
			CreatedAt: now,
		})
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("deliverable", del.ID, now)
	return Result{ID: del.ID}, nil
}

// AddComment attaches a comment to a task and logs a preview of it. It is
// not a webhook event; the board API calls it directly.
func (d *Dispatcher) AddComment(ctx context.Context, taskID string, p Payload) (Result, error) {
	content := p.StringOr("", fieldContent...)
	if content == "" {
		return Result{}, validationf("content is required")
	}
	ctype := storage.CommentType(p.StringOr(string(storage.CommentPlain), fieldType...))
	switch ctype {
	case storage.CommentPlain, storage.CommentStatusChange, storage.CommentAssignment:
	default:
		return Result{}, validationf("unsupported comment type %q", ctype)
	}

	now := d.now().UnixMilli()
	c := storage.Comment{
		ID:        d.newID(),
		TaskID:    taskID,
		Agent:     p.StringOr(systemActor, fieldCommentAgent...),
		Content:   content,
		Type:      ctype,
		CreatedAt: now,
	}
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		if taskID != "" {
			if _, err := tx.GetTask(ctx, taskID); errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, taskID)
			} else if err != nil {
				return err
			}
		}
		if err := tx.InsertComment(ctx, c); err != nil {
			return fmt.Errorf("inserting comment: %w", err)
		}
		return tx.InsertActivity(ctx, storage.Activity{
			ID:        d.newID(),
			Type:      storage.ActivityMessageSent,
			Agent:     c.Agent,
			TaskID:    taskID,
			Message:   "Comment: " + truncateRunes(content, commentPreviewRunes),
			CreatedAt: now,
		})
	})
	if err != nil {
		return Result{}, err
	}

	d.publish("comment", c.ID, now)
	return Result{ID: c.ID}, nil
}

func orSystem(agent string) string {
	if agent == "" {
		return systemActor
	}
	return agent
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
