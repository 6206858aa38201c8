package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/missionctl/internal/live"
	"github.com/kalambet/missionctl/internal/metrics"
	"github.com/kalambet/missionctl/internal/notify"
	"github.com/kalambet/missionctl/internal/storage"
	"github.com/kalambet/missionctl/internal/webhook"
)

const testKey = "board-secret"

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRouter(t *testing.T, notifier *notify.Client) (http.Handler, *storage.SQLiteStore, *webhook.Dispatcher) {
	t.Helper()
	store := openTestStore(t)
	m := metrics.New()
	hub := live.NewHub(m)
	d := webhook.NewDispatcher(webhook.Deps{Store: store, Secret: testKey, Publisher: hub, Metrics: m})
	h := NewRouter(Deps{
		Store:      store,
		Dispatcher: d,
		Secret:     testKey,
		Queue:      notify.NewQueue(store, true),
		Notifier:   notifier,
		Hub:        hub,
		Metrics:    m,
	})
	return h, store, d
}

func do(h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set(webhook.APIKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return m
}

func mustDispatch(t *testing.T, d *webhook.Dispatcher, kind string, p webhook.Payload) webhook.Result {
	t.Helper()
	res, err := d.Dispatch(context.Background(), kind, p)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", kind, err)
	}
	return res
}

func TestHealth_NoAuth(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)
	rr := do(h, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode(t, rr)["status"] != "ok" {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)
	do(h, http.MethodPost, "/api/webhook", testKey, `{"type":"chat_message","payload":{"content":"hi"}}`)

	rr := do(h, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `missionctl_webhook_events_total{outcome="ok",type="chat_message"} 1`) {
		t.Errorf("webhook counter missing from scrape")
	}
}

func TestBoardAPI_RequiresKey(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)
	for _, key := range []string{"", "wrong"} {
		rr := do(h, http.MethodGet, "/api/tasks", key, "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, rr.Code)
		}
		if decode(t, rr)["error"] != "Unauthorized" {
			t.Errorf("key %q: body = %s", key, rr.Body.String())
		}
		if rr.Header().Get("Pragma") != "no-cache" {
			t.Errorf("key %q: missing no-cache headers", key)
		}
	}
}

func TestWebhook_MountedOnBothPaths(t *testing.T) {
	h, store, _ := newTestRouter(t, nil)
	for _, path := range []string{"/webhook", "/api/webhook"} {
		rr := do(h, http.MethodPost, path, testKey, `{"type":"create_task","payload":{"title":"via `+path+`"}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, rr.Code, rr.Body.String())
		}
	}
	tasks, err := store.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(tasks))
	}
}

func TestListTasks_ExternalShape(t *testing.T) {
	h, _, d := newTestRouter(t, nil)
	mustDispatch(t, d, "create_task", webhook.Payload{"title": "Draft launch post", "status": "in_progress"})

	rr := do(h, http.MethodGet, "/api/tasks", testKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Error("missing Cache-Control")
	}
	body := decode(t, rr)
	if _, ok := body["_ts"].(float64); !ok {
		t.Errorf("_ts missing: %v", body)
	}
	tasks := body["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	task := tasks[0].(map[string]any)
	if task["status"] != "active" {
		t.Errorf("status = %v, want active", task["status"])
	}
	if task["description"] != nil || task["assignedAgent"] != nil {
		t.Errorf("empty optional fields should be null: %v", task)
	}
	if task["priority"] != "medium" {
		t.Errorf("priority = %v", task["priority"])
	}
	created, _ := task["createdAt"].(string)
	if _, err := time.Parse(time.RFC3339, created); err != nil || !strings.HasSuffix(created, "Z") {
		t.Errorf("createdAt = %q, want RFC3339 UTC", created)
	}
}

func TestRecentTasks_Window(t *testing.T) {
	h, store, d := newTestRouter(t, nil)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.InsertTask(ctx, storage.Task{
			ID: "old", Title: "Old", Status: storage.StatusDone, Priority: storage.PriorityLow,
			CreatedAt: old, UpdatedAt: old,
		})
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	mustDispatch(t, d, "create_task", webhook.Payload{"title": "Fresh"})

	tests := []struct {
		query     string
		wantCount int
		wantHours float64
	}{
		{"", 1, 24},
		{"?hours=72", 2, 72},
		{"?hours=99999", 2, 720},
		{"?hours=bogus", 1, 24},
	}
	for _, tt := range tests {
		body := decode(t, do(h, http.MethodGet, "/api/tasks/recent"+tt.query, testKey, ""))
		if n := len(body["tasks"].([]any)); n != tt.wantCount {
			t.Errorf("%q: tasks = %d, want %d", tt.query, n, tt.wantCount)
		}
		if body["hours"] != tt.wantHours {
			t.Errorf("%q: hours = %v, want %v", tt.query, body["hours"], tt.wantHours)
		}
	}
}

func TestGetTask(t *testing.T) {
	h, _, d := newTestRouter(t, nil)
	res := mustDispatch(t, d, "create_task", webhook.Payload{"title": "Write docs"})

	rr := do(h, http.MethodGet, "/api/tasks/"+res.ID, testKey, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["title"] != "Write docs" || body["status"] != "inbox" {
		t.Errorf("body = %v", body)
	}
	if c, ok := body["comments"].([]any); !ok || len(c) != 0 {
		t.Errorf("comments = %v, want []", body["comments"])
	}

	rr = do(h, http.MethodGet, "/api/tasks/nope", testKey, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", rr.Code)
	}
	errObj := decode(t, rr)["error"].(map[string]any)
	if errObj["type"] != "not_found" {
		t.Errorf("error = %v", errObj)
	}
}

func TestListChat_Shape(t *testing.T) {
	h, _, d := newTestRouter(t, nil)
	mustDispatch(t, d, "chat_message", webhook.Payload{"agent": "Jarvis", "content": "first"})
	mustDispatch(t, d, "chat_message", webhook.Payload{"agent": "Friday", "content": "second"})

	body := decode(t, do(h, http.MethodGet, "/api/chat", testKey, ""))
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	for _, raw := range msgs {
		m := raw.(map[string]any)
		for _, key := range []string{"id", "agentId", "message", "timestamp"} {
			if _, ok := m[key]; !ok {
				t.Errorf("message missing %q: %v", key, m)
			}
		}
	}

	body = decode(t, do(h, http.MethodGet, "/api/chat?limit=1", testKey, ""))
	if n := len(body["messages"].([]any)); n != 1 {
		t.Errorf("limit=1 returned %d messages", n)
	}
}

func TestFeedsAndStats(t *testing.T) {
	h, _, d := newTestRouter(t, nil)
	mustDispatch(t, d, "create_task", webhook.Payload{"title": "A", "status": "review"})
	mustDispatch(t, d, "agent_update", webhook.Payload{"name": "Jarvis", "status": "busy"})
	mustDispatch(t, d, "add_deliverable", webhook.Payload{"title": "Report", "content": "..."})

	acts := decode(t, do(h, http.MethodGet, "/api/activities", testKey, ""))["activities"].([]any)
	if len(acts) != 2 {
		t.Errorf("activities = %d, want 2", len(acts))
	}
	agents := decode(t, do(h, http.MethodGet, "/api/agents", testKey, ""))["agents"].([]any)
	if len(agents) != 1 {
		t.Errorf("agents = %d, want 1", len(agents))
	}
	dels := decode(t, do(h, http.MethodGet, "/api/deliverables", testKey, ""))["deliverables"].([]any)
	if len(dels) != 1 {
		t.Errorf("deliverables = %d, want 1", len(dels))
	}

	stats := decode(t, do(h, http.MethodGet, "/api/stats", testKey, ""))
	if stats["review"] != float64(1) || stats["total"] != float64(1) || stats["agentsTotal"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
}

func claimNotice(t *testing.T, store *storage.SQLiteStore) *notify.Notice {
	t.Helper()
	job, err := store.ClaimNextJob(context.Background(), []string{notify.JobType})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		return nil
	}
	var n notify.Notice
	if err := json.Unmarshal([]byte(job.PayloadJSON), &n); err != nil {
		t.Fatalf("decoding job payload: %v", err)
	}
	return &n
}

func TestUICreateTask_EnqueuesNotice(t *testing.T) {
	h, store, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/api/tasks", testKey, `{"title":"Ship it","assignee":"Jarvis","priority":"high"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["success"] != true || body["action"] != "created" || body["id"] == "" {
		t.Errorf("body = %v", body)
	}

	n := claimNotice(t, store)
	if n == nil {
		t.Fatal("no notify job enqueued")
	}
	if n.Type != notify.KindNewTask || n.Title != "Ship it" || n.Assignee != "Jarvis" || n.Priority != "high" {
		t.Errorf("notice = %+v", n)
	}
}

func TestUICreateTask_Validation(t *testing.T) {
	h, store, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/api/tasks", testKey, `{"description":"no title"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	rr = do(h, http.MethodPost, "/api/tasks", testKey, `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON status = %d, want 400", rr.Code)
	}
	if n := claimNotice(t, store); n != nil {
		t.Errorf("failed create enqueued %+v", n)
	}
}

func TestUIUpdateTask(t *testing.T) {
	h, store, d := newTestRouter(t, nil)
	res := mustDispatch(t, d, "create_task", webhook.Payload{"title": "Audit"})

	rr := do(h, http.MethodPatch, "/api/tasks/"+res.ID, testKey, `{"title":"Audit pricing"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if n := claimNotice(t, store); n != nil {
		t.Errorf("title-only update enqueued %+v", n)
	}

	rr = do(h, http.MethodPatch, "/api/tasks/"+res.ID, testKey, `{"status":"review"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	n := claimNotice(t, store)
	if n == nil || n.Type != notify.KindTaskUpdate || n.Title != "Audit pricing" || n.Status != "review" {
		t.Errorf("notice = %+v", n)
	}

	rr = do(h, http.MethodPatch, "/api/tasks/missing", testKey, `{"status":"done"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d, want 404", rr.Code)
	}
}

func TestUIUpdateTask_NestedStatusNotifies(t *testing.T) {
	h, store, d := newTestRouter(t, nil)
	res := mustDispatch(t, d, "create_task", webhook.Payload{"title": "Ship docs"})

	rr := do(h, http.MethodPatch, "/api/tasks/"+res.ID, testKey, `{"updates":{"status":"completed"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	n := claimNotice(t, store)
	if n == nil || n.Type != notify.KindTaskUpdate || n.Status != "done" {
		t.Errorf("notice = %+v", n)
	}
}

func TestUIPostChat(t *testing.T) {
	h, store, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/api/chat", testKey, `{"agent":"Pepper","content":"standup in 5"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	n := claimNotice(t, store)
	if n == nil || n.Text() != "[MISSION CONTROL] Pepper says: standup in 5" {
		t.Errorf("notice = %+v", n)
	}

	rr = do(h, http.MethodPost, "/api/chat", testKey, `{"agent":"Pepper"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty chat status = %d, want 400", rr.Code)
	}
}

func TestAddComment(t *testing.T) {
	h, store, d := newTestRouter(t, nil)
	res := mustDispatch(t, d, "create_task", webhook.Payload{"title": "Review copy"})

	rr := do(h, http.MethodPost, "/api/tasks/"+res.ID+"/comments", testKey, `{"agent":"Friday","content":"Looks good"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	detail, err := store.GetTaskDetail(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetTaskDetail: %v", err)
	}
	if len(detail.Comments) != 1 || detail.Comments[0].Content != "Looks good" {
		t.Errorf("comments = %+v", detail.Comments)
	}

	rr = do(h, http.MethodPost, "/api/tasks/missing/comments", testKey, `{"content":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d, want 404", rr.Code)
	}
}

func TestNotify_Synchronous(t *testing.T) {
	var got []string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body.Message)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	h, _, _ := newTestRouter(t, notify.NewClient(gateway.URL, "tok", ""))
	rr := do(h, http.MethodPost, "/api/notify", testKey, `{"type":"task_update","title":"Ship","status":"done"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if decode(t, rr)["success"] != true {
		t.Errorf("body = %s", rr.Body.String())
	}
	if len(got) != 1 || got[0] != `[MISSION CONTROL] Task "Ship" updated. New status: done.` {
		t.Errorf("gateway received %v", got)
	}
}

func TestNotify_GatewayFailureIsWarning(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()

	h, _, _ := newTestRouter(t, notify.NewClient(gateway.URL, "tok", ""))
	rr := do(h, http.MethodPost, "/api/notify", testKey, `{"type":"chat_message","message":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decode(t, rr)
	if body["success"] != false || body["warning"] != "Failed to notify agents" {
		t.Errorf("body = %v", body)
	}

	rr = do(h, http.MethodPost, "/api/notify", testKey, `{"type":"broadcast"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown notice type status = %d, want 400", rr.Code)
	}
}
