// Package webhook ingests events from the agent gateway and applies them to
// the board store.
//
// A Dispatcher routes each event by its discriminator to one handler. Every
// handler runs inside a single store transaction, so a task mutation and the
// activity entry derived from it are committed together.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/missionctl/internal/live"
	"github.com/kalambet/missionctl/internal/metrics"
	"github.com/kalambet/missionctl/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// APIKeyHeader carries the shared secret on every authenticated request.
const APIKeyHeader = "X-API-Key"

// Result holds the handler-specific fields merged into the success envelope.
type Result struct {
	Action string `json:"action,omitempty"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// Deps carries the collaborators of a Dispatcher.
type Deps struct {
	Store  storage.Store
	Secret string

	Publisher live.Publisher   // optional
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger     // defaults to slog.Default()
	Now       func() time.Time // defaults to time.Now
	NewID     func() string    // defaults to uuid.New().String
}

type handlerFunc func(ctx context.Context, p Payload) (Result, error)

type route struct {
	kinds   []string
	handler handlerFunc
}

// Dispatcher routes gateway events to their handlers. It is safe for
// concurrent use.
type Dispatcher struct {
	store     storage.Store
	secret    string
	publisher live.Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	routes    map[string]handlerFunc
	supported []string
}

// NewDispatcher builds the routing table and fills in defaults for the
// optional dependencies.
func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		store:     deps.Store,
		secret:    deps.Secret,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = func() string { return uuid.New().String() }
	}

	table := []route{
		{[]string{"task_update", "create_task", "taskUpdate"}, d.upsertTask},
		{[]string{"update_task"}, d.updateTask},
		{[]string{"agent_update", "update_agent", "agentUpdate"}, d.agentStatus},
		{[]string{"activity", "add_activity", "addActivity"}, d.appendActivity},
		{[]string{"chat_message", "post_chat", "chatMessage"}, d.postChat},
		{[]string{"add_deliverable"}, d.addDeliverable},
	}
	d.routes = make(map[string]handlerFunc)
	for _, r := range table {
		for _, k := range r.kinds {
			d.routes[k] = r.handler
			d.supported = append(d.supported, k)
		}
	}
	return d
}

// SupportedTypes lists every accepted discriminator in routing-table order.
func (d *Dispatcher) SupportedTypes() []string {
	out := make([]string, len(d.supported))
	copy(out, d.supported)
	return out
}

// Dispatch runs the handler registered for kind. It is the transport-neutral
// entry point shared by the HTTP endpoint and the MCP tools.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, p Payload) (Result, error) {
	h, ok := d.routes[kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownType, kind)
	}
	if p == nil {
		p = Payload{}
	}
	return h(ctx, p)
}

// CheckAPIKey reports whether r carries secret in the X-API-Key header.
// An empty secret matches nothing.
func CheckAPIKey(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get(APIKeyHeader)), []byte(secret)) == 1
}

// SetNoCache marks a response as uncacheable by browsers, proxies and CDNs.
func SetNoCache(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate, max-age=0")
	h.Set("CDN-Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// ServeHTTP authenticates and dispatches one webhook delivery.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	SetNoCache(w.Header())

	if !CheckAPIKey(r, d.secret) {
		d.metrics.WebhookEvent("", "unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var env map[string]any
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		d.metrics.WebhookEvent("", "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON", "details": err.Error()})
		return
	}

	kind := envelopeKind(env)
	payload, err := envelopePayload(env)
	if _, known := d.routes[kind]; !known {
		err = fmt.Errorf("%w: %s", ErrUnknownType, kind)
	}
	if err == nil {
		var res Result
		res, err = d.Dispatch(r.Context(), kind, payload)
		if err == nil {
			d.metrics.WebhookEvent(kind, "ok")
			writeJSON(w, http.StatusOK, successResponse{Success: true, Type: kind, Result: res})
			return
		}
	}

	switch {
	case errors.Is(err, ErrUnknownType):
		d.metrics.WebhookEvent("unknown", "unknown_type")
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "Unknown type: " + kind,
			"supported": d.supported,
		})
	case errors.Is(err, ErrValidation):
		d.metrics.WebhookEvent(kind, "invalid")
		writeJSON(w, http.StatusBadRequest, failureResponse{
			Error: "Invalid payload", Details: err.Error(), Type: kind, Payload: payload,
		})
	default:
		d.metrics.WebhookEvent(kind, "error")
		d.log.Error("webhook handler failed", "type", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, failureResponse{
			Error: "Webhook processing failed", Details: err.Error(), Type: kind, Payload: payload,
		})
	}
}

// envelopeKind reads the discriminator from "type", else "action". An empty
// "type" does not shadow "action".
func envelopeKind(env map[string]any) string {
	for _, key := range []string{"type", "action"} {
		if k := Payload(env).StringOr("", key); k != "" {
			return k
		}
	}
	return ""
}

// envelopePayload picks the payload under "payload", else "data". A missing
// payload is an empty object.
func envelopePayload(env map[string]any) (Payload, error) {
	for _, key := range []string{"payload", "data"} {
		v, ok := env[key]
		if !ok || v == nil {
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, validationf("%s must be a JSON object", key)
		}
		return Payload(obj), nil
	}
	return Payload{}, nil
}

type successResponse struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`
	Result
}

type failureResponse struct {
	Error   string  `json:"error"`
	Details string  `json:"details"`
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (d *Dispatcher) publish(kind, id string, at int64) {
	if d.publisher == nil {
		return
	}
	d.publisher.Publish(live.Event{Kind: kind, ID: id, At: at})
}
