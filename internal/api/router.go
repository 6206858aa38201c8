package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missionctl/internal/live"
	"github.com/kalambet/missionctl/internal/metrics"
	"github.com/kalambet/missionctl/internal/notify"
	"github.com/kalambet/missionctl/internal/storage"
	"github.com/kalambet/missionctl/internal/webhook"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Deps struct {
	Store      storage.Store
	Dispatcher *webhook.Dispatcher
	Secret     string

	Queue    *notify.Queue    // optional; nil skips gateway notifications
	Notifier *notify.Client   // optional; backs POST /api/notify
	Hub      *live.Hub        // optional; nil disables /api/events
	Metrics  *metrics.Metrics // optional; nil disables /metrics
	Logger   *slog.Logger
}

// NewRouter returns the full HTTP surface: health, metrics, the webhook
// endpoint and the board API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Post("/webhook", deps.Dispatcher.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", deps.Dispatcher.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(deps.Secret))

			r.Get("/tasks", handleListTasks(deps))
			r.Get("/tasks/recent", handleRecentTasks(deps))
			r.Get("/tasks/{id}", handleGetTask(deps))
			r.Post("/tasks", handleCreateTask(deps))
			r.Patch("/tasks/{id}", handleUpdateTask(deps))
			r.Post("/tasks/{id}/comments", handleAddComment(deps))

			r.Get("/chat", handleListChat(deps))
			r.Post("/chat", handlePostChat(deps))

			r.Get("/activities", handleListActivities(deps))
			r.Get("/agents", handleListAgents(deps))
			r.Get("/deliverables", handleListDeliverables(deps))
			r.Get("/stats", handleStats(deps))

			r.Post("/notify", handleNotify(deps))

			if deps.Hub != nil {
				r.Get("/events", deps.Hub.Handler())
			}
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
