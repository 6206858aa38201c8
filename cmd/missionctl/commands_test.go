package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/missionctl/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	APIKey string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			APIKey: r.Header.Get("X-API-Key"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		apiKey:     "test-key",
		httpClient: ts.server.Client(),
	}
}

// useClient points every command at ts for the duration of the test.
func (ts *testServer) useClient(t *testing.T) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

var ctx = context.Background()

func TestClient_SendsAPIKey(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/webhook": `{"success":true,"type":"create_task","action":"created","id":"t-1"}`,
	})

	resp, err := ts.client().post(ctx, "/api/webhook", map[string]any{"type": "create_task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].APIKey != "test-key" {
		t.Errorf("X-API-Key = %q, want test-key", ts.requests[0].APIKey)
	}
	if describeResult(result) != " (action=created id=t-1)" {
		t.Errorf("describeResult = %q", describeResult(result))
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/api/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "server returned 404") {
		t.Errorf("err = %v, want 404 error", err)
	}
}

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		sets    []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "", nil, map[string]any{}, false},
		{"data only", `{"title":"A","n":1}`, nil, map[string]any{"title": "A", "n": float64(1)}, false},
		{"set overrides data", `{"title":"A"}`, []string{"title=B", "status=review"}, map[string]any{"title": "B", "status": "review"}, false},
		{"value keeps equals", "", []string{"content=a=b"}, map[string]any{"content": "a=b"}, false},
		{"bad data", `[1,2]`, nil, nil, true},
		{"bad set", "", []string{"novalue"}, nil, true},
		{"empty key", "", []string{"=x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.data, tt.sets)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gb, _ := json.Marshal(got)
			wb, _ := json.Marshal(tt.want)
			if string(gb) != string(wb) {
				t.Errorf("payload = %s, want %s", gb, wb)
			}
		})
	}
}

func TestSendCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/webhook": `{"success":true,"type":"update_task","action":"updated","id":"t-9"}`,
	})
	ts.useClient(t)

	if _, err := execute(t, "send", "update_task", "--set", "id=t-9", "--set", "status=review"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Type != "update_task" || body.Payload["id"] != "t-9" || body.Payload["status"] != "review" {
		t.Errorf("body = %+v", body)
	}
}

func TestTasksListCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/tasks": `{"tasks":[
			{"id":"0123456789abcdef","title":"Draft post","status":"active","priority":"high","assignedAgent":"Jarvis","createdAt":"2026-01-01T00:00:00.000Z","updatedAt":"2026-01-01T00:00:00.000Z"},
			{"id":"t2","title":"Unowned","status":"queued","priority":"low","assignedAgent":null,"createdAt":"2026-01-01T00:00:00.000Z","updatedAt":"2026-01-01T00:00:00.000Z"}
		],"_ts":1}`,
	})
	ts.useClient(t)

	out, err := execute(t, "tasks", "list")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	for _, want := range []string{"ID", "01234567", "Draft post", "Jarvis", "queued", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Errorf("ids should be shortened:\n%s", out)
	}
}

func TestTasksRecentCommand_PassesHours(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/tasks/recent": `{"tasks":[],"hours":6,"_ts":1}`,
	})
	ts.useClient(t)

	out, err := execute(t, "tasks", "recent", "--hours", "6")
	if err != nil {
		t.Fatalf("tasks recent: %v", err)
	}
	if !strings.Contains(out, "No tasks.") {
		t.Errorf("output = %q", out)
	}
	if ts.requests[0].Path != "/api/tasks/recent?hours=6" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestChatListCommand_OldestFirst(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/chat": `{"messages":[
			{"id":"2","agentId":"Friday","message":"second","timestamp":"2026-01-01T00:00:02.000Z"},
			{"id":"1","agentId":"Jarvis","message":"first","timestamp":"2026-01-01T00:00:01.000Z"}
		],"_ts":1}`,
	})
	ts.useClient(t)

	old := noColor
	noColor = true
	defer func() { noColor = old }()

	out, err := execute(t, "chat", "list", "--limit", "2")
	if err != nil {
		t.Fatalf("chat list: %v", err)
	}
	first := strings.Index(out, "Jarvis: first")
	second := strings.Index(out, "Friday: second")
	if first < 0 || second < 0 || first > second {
		t.Errorf("transcript order wrong:\n%s", out)
	}
	if ts.requests[0].Path != "/api/chat?limit=2" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:4100"},
		{"0.0.0.0", "http://127.0.0.1:4100"},
		{"", "http://127.0.0.1:4100"},
		{"board.local", "http://board.local:4100"},
	}
	for _, tt := range tests {
		cfg := config.Config{Server: config.ServerConfig{Host: tt.host, Port: 4100}}
		if got := serverURL(cfg); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintHelpers(t *testing.T) {
	oldOut, oldColor := msgOut, noColor
	defer func() { msgOut, noColor = oldOut, oldColor }()

	var buf bytes.Buffer
	msgOut = &buf
	noColor = true

	printSuccess("Set %s = %s", "server.port", "4200")
	printWarning("gateway %s", "unreachable")
	printStatus("Agents", "%d/%d online", 2, 3)

	want := "✓ Set server.port = 4200\n⚠ gateway unreachable\n  Agents: 2/3 online\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
