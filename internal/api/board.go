package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missionctl/internal/notify"
	"github.com/kalambet/missionctl/internal/storage"
	"github.com/kalambet/missionctl/internal/vocab"
	"github.com/kalambet/missionctl/internal/webhook"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

const (
	defaultRecentHours = 24
	maxRecentHours     = 720
	defaultChatLimit   = 100
	defaultFeedLimit   = 50
	maxListLimit       = 500
)

// taskView is the external task shape served to the dashboard.
type taskView struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   *string          `json:"description"`
	Status        string           `json:"status"`
	Priority      storage.Priority `json:"priority"`
	AssignedAgent *string          `json:"assignedAgent"`
	CreatedAt     string           `json:"createdAt"`
	UpdatedAt     string           `json:"updatedAt"`
}

type chatView struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoMillis)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toTaskViews(tasks []storage.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView{
			ID:            t.ID,
			Title:         t.Title,
			Description:   nullable(t.Description),
			Status:        vocab.ExternalTaskStatus(t.Status),
			Priority:      t.Priority,
			AssignedAgent: nullable(t.Assignee),
			CreatedAt:     isoTime(t.CreatedAt),
			UpdatedAt:     isoTime(t.UpdatedAt),
		})
	}
	return out
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Store.ListTasks(r.Context())
		if err != nil {
			deps.Logger.Error("listing tasks", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks": toTaskViews(tasks),
			"_ts":   time.Now().UnixMilli(),
		})
	}
}

func handleRecentTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", defaultRecentHours, maxRecentHours)
		now := time.Now()
		since := now.Add(-time.Duration(hours) * time.Hour).UnixMilli()

		tasks, err := deps.Store.ListTasksUpdatedSince(r.Context(), since)
		if err != nil {
			deps.Logger.Error("listing recent tasks", "hours", hours, "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks": toTaskViews(tasks),
			"hours": hours,
			"_ts":   now.UnixMilli(),
		})
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		detail, err := deps.Store.GetTaskDetail(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task %s not found", id)
			return
		}
		if err != nil {
			deps.Logger.Error("getting task", "id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to get task")
			return
		}
		if detail.Comments == nil {
			detail.Comments = []storage.Comment{}
		}
		if detail.Deliverables == nil {
			detail.Deliverables = []storage.Deliverable{}
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func handleListChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultChatLimit, maxListLimit)
		msgs, err := deps.Store.ListChatMessages(r.Context(), limit)
		if err != nil {
			deps.Logger.Error("listing chat", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list chat messages")
			return
		}
		out := make([]chatView, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, chatView{
				ID:        m.ID,
				AgentID:   m.Agent,
				Message:   m.Content,
				Timestamp: isoTime(m.CreatedAt),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": out,
			"_ts":      time.Now().UnixMilli(),
		})
	}
}

func handleListActivities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultFeedLimit, maxListLimit)
		acts, err := deps.Store.ListActivities(r.Context(), limit)
		if err != nil {
			deps.Logger.Error("listing activities", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list activities")
			return
		}
		if acts == nil {
			acts = []storage.Activity{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"activities": acts})
	}
}

func handleListAgents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := deps.Store.ListAgents(r.Context())
		if err != nil {
			deps.Logger.Error("listing agents", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list agents")
			return
		}
		if agents == nil {
			agents = []storage.Agent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
	}
}

func handleListDeliverables(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dels, err := deps.Store.ListDeliverables(r.Context())
		if err != nil {
			deps.Logger.Error("listing deliverables", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list deliverables")
			return
		}
		if dels == nil {
			dels = []storage.Deliverable{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"deliverables": dels})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			deps.Logger.Error("computing stats", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "failed to compute stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// mutationResponse mirrors the webhook success envelope.
type mutationResponse struct {
	Success bool `json:"success"`
	webhook.Result
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodePayload(w, r)
		if !ok {
			return
		}
		res, err := deps.Dispatcher.Dispatch(r.Context(), "create_task", p)
		if err != nil {
			writeDispatchError(w, deps, "create_task", err)
			return
		}

		if task, err := getTask(r.Context(), deps.Store, res.ID); err == nil {
			enqueueNotice(r.Context(), deps, notify.Notice{
				Type:        notify.KindNewTask,
				Title:       task.Title,
				Description: task.Description,
				Priority:    string(task.Priority),
				Assignee:    task.Assignee,
			})
		}
		writeJSON(w, http.StatusCreated, mutationResponse{Success: true, Result: res})
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodePayload(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		p["id"] = id

		res, err := deps.Dispatcher.Dispatch(r.Context(), "update_task", p)
		if err != nil {
			writeDispatchError(w, deps, "update_task", err)
			return
		}

		if _, statusChanged := p.Flatten()["status"]; statusChanged {
			if task, err := getTask(r.Context(), deps.Store, id); err == nil {
				enqueueNotice(r.Context(), deps, notify.Notice{
					Type:   notify.KindTaskUpdate,
					Title:  task.Title,
					Status: string(task.Status),
				})
			}
		}
		writeJSON(w, http.StatusOK, mutationResponse{Success: true, Result: res})
	}
}

func handleAddComment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodePayload(w, r)
		if !ok {
			return
		}
		res, err := deps.Dispatcher.AddComment(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			writeDispatchError(w, deps, "add_comment", err)
			return
		}
		writeJSON(w, http.StatusCreated, mutationResponse{Success: true, Result: res})
	}
}

func handlePostChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := decodePayload(w, r)
		if !ok {
			return
		}
		res, err := deps.Dispatcher.Dispatch(r.Context(), "post_chat", p)
		if err != nil {
			writeDispatchError(w, deps, "post_chat", err)
			return
		}
		enqueueNotice(r.Context(), deps, notify.Notice{
			Type:    notify.KindChatMessage,
			Sender:  p.StringOr("", "agent", "agentId", "name"),
			Message: p.StringOr("", "content", "message"),
		})
		writeJSON(w, http.StatusCreated, mutationResponse{Success: true, Result: res})
	}
}

// handleNotify forwards a notice to the gateway synchronously. A delivery
// failure is reported in the body, not as an HTTP error.
func handleNotify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var n notify.Notice
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}
		if !n.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported notice type %q", n.Type)
			return
		}

		if deps.Notifier == nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "warning": "Failed to notify agents"})
			return
		}
		if err := deps.Notifier.Notify(r.Context(), n); err != nil {
			deps.Logger.Warn("gateway notify failed", "type", n.Type, "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "warning": "Failed to notify agents"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func decodePayload(w http.ResponseWriter, r *http.Request) (webhook.Payload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var p webhook.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
		return nil, false
	}
	if p == nil {
		p = webhook.Payload{}
	}
	return p, true
}

func writeDispatchError(w http.ResponseWriter, deps Deps, op string, err error) {
	switch {
	case errors.Is(err, webhook.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, webhook.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		deps.Logger.Error("board mutation failed", "op", op, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "%s failed", op)
	}
}

func getTask(ctx context.Context, r storage.Reader, id string) (storage.Task, error) {
	detail, err := r.GetTaskDetail(ctx, id)
	if err != nil {
		return storage.Task{}, err
	}
	return detail.Task, nil
}

// enqueueNotice schedules a gateway notification. Failures are logged and
// never surface to the caller.
func enqueueNotice(ctx context.Context, deps Deps, n notify.Notice) {
	if err := deps.Queue.Enqueue(ctx, n); err != nil {
		deps.Logger.Warn("enqueue gateway notice failed", "type", n.Type, "error", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
