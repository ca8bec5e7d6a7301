package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/twin/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

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
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestIngestCommand_Text(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/knowledge": `{"id":"doc-123","language":"en","status":"queued"}`,
	})

	client := ts.client()

	req, err := ingestRequest("hello world", "", "", "", "en", []string{"foo"})
	if err != nil {
		t.Fatalf("ingestRequest: %v", err)
	}

	resp, err := client.post(ctx, "/admin/knowledge", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result["status"] != "queued" {
		t.Errorf("status = %q, want %q", result["status"], "queued")
	}
	if result["id"] != "doc-123" {
		t.Errorf("id = %q, want %q", result["id"], "doc-123")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Path != "/admin/knowledge" {
		t.Errorf("path = %q, want /admin/knowledge", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["source"] != "cli" {
		t.Errorf("body.source = %v, want cli", body["source"])
	}
	if body["content"] != "hello world" || body["type"] != "text" {
		t.Errorf("body = %v", body)
	}
	if body["language"] != "en" {
		t.Errorf("body.language = %v, want en", body["language"])
	}
}

func TestIngestRequest_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.pdf")
	raw := []byte("%PDF-1.4 fake")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := ingestRequest("", "", path, "", "", nil)
	if err != nil {
		t.Fatalf("ingestRequest: %v", err)
	}
	if req["type"] != "file" {
		t.Errorf("type = %v, want file", req["type"])
	}
	if req["title"] != "cv.pdf" {
		t.Errorf("title = %v, want cv.pdf", req["title"])
	}
	decoded, err := base64.StdEncoding.DecodeString(req["content"].(string))
	if err != nil || !bytes.Equal(decoded, raw) {
		t.Errorf("content does not round-trip: %v", err)
	}
	if _, ok := req["tags"]; ok {
		t.Error("tags should be omitted when empty")
	}
}

func TestIngestRequest_URL(t *testing.T) {
	req, err := ingestRequest("", "https://example.com/a", "", "Interview", "", nil)
	if err != nil {
		t.Fatalf("ingestRequest: %v", err)
	}
	if req["type"] != "url" || req["url"] != "https://example.com/a" || req["title"] != "Interview" {
		t.Errorf("req = %v", req)
	}
}

func TestIngestRequest_MissingFile(t *testing.T) {
	if _, err := ingestRequest("", "", filepath.Join(t.TempDir(), "nope"), "", "", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSplitTags(t *testing.T) {
	got := splitTags(" bio, press ,,travel")
	want := []string{"bio", "press", "travel"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitTags = %v, want %v", got, want)
	}
	if splitTags("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestPersonaShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/persona": `{"identity":{"name":"Peter","role":"engineer"},"style":{"tone":"warm"}}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/admin/persona")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var p map[string]any
	if err := decodeJSON(resp, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	identity, ok := p["identity"].(map[string]any)
	if !ok {
		t.Fatal("expected identity to be a map")
	}
	if identity["role"] != "engineer" {
		t.Errorf("role = %v, want engineer", identity["role"])
	}
}

func TestPersonaSet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /admin/persona": `{"status":"updated"}`,
	})

	client := ts.client()
	resp, err := client.patch(ctx, "/admin/persona", map[string]any{"style.tone": "direct"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "updated" {
		t.Errorf("status = %q, want updated", result["status"])
	}

	var sentBody map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sentBody); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sentBody["style.tone"] != "direct" {
		t.Errorf("body key = %v, want direct", sentBody["style.tone"])
	}
}

func TestFlattenPersona(t *testing.T) {
	doc := map[string]any{
		"identity":  map[string]any{"name": "Peter", "role": "engineer"},
		"style":     map[string]any{"catchwords": []any{"to be fair"}},
		"interests": []any{"sailing"},
		"greetings": map[string]any{"en": "Hi, Peter here."},
	}

	got := flattenPersona(doc)

	if got["identity.name"] != "Peter" || got["identity.role"] != "engineer" {
		t.Errorf("identity not flattened: %v", got)
	}
	if _, ok := got["style.catchwords"].([]any); !ok {
		t.Errorf("style.catchwords = %v", got["style.catchwords"])
	}
	if _, ok := got["greetings"].(map[string]any); !ok {
		t.Errorf("greetings should stay a map, got %v", got["greetings"])
	}
	if _, ok := got["identity"]; ok {
		t.Error("identity section should not be sent whole")
	}
	if len(got) != 5 {
		t.Errorf("len = %d, want 5: %v", len(got), got)
	}
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"responseText":"I live in Lisbon.","language":"en","ragPattern":"standard","latencyMs":840,"sessionId":"s-1","turnIndex":2}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/chat", map[string]any{"message": "where do you live", "sessionId": "s-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reply chatReply
	if err := decodeJSON(resp, &reply); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if reply.ResponseText != "I live in Lisbon." || reply.TurnIndex != 2 || reply.RAGPattern != "standard" {
		t.Errorf("reply = %+v", reply)
	}

	var body map[string]any
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["sessionId"] != "s-1" || body["message"] != "where do you live" {
		t.Errorf("body = %v", body)
	}
}

func TestRecallCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/recall": `[{"id":"v1","sourceId":"doc1","sourceType":"knowledge_doc","text":"I moved to Lisbon in 2019","language":"en","score":0.95,"tags":"[\"bio\"]"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/admin/recall?q=lisbon&limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var results []struct {
		ID    string  `json:"id"`
		Text  string  `json:"text"`
		Score float32 `json:"score"`
	}
	if err := decodeJSON(resp, &results); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Text != "I moved to Lisbon in 2019" {
		t.Errorf("text = %q", results[0].Text)
	}
	if results[0].Score < 0.9 {
		t.Errorf("score = %f, want > 0.9", results[0].Score)
	}
}

func TestRecallCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/recall": `[]`,
	})

	client := ts.client()
	query := "go & python preferences"
	path := fmt.Sprintf("/admin/recall?q=%s&limit=5", url.QueryEscape(query))
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "& python") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "q=go+%26+python+preferences") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestSessionsShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/sessions/CA123": `{"ID":"CA123","Channel":"phone","History":[{"Role":"user","Text":"hola"}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/admin/sessions/CA123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sess map[string]any
	if err := decodeJSON(resp, &sess); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if sess["Channel"] != "phone" {
		t.Errorf("session = %v", sess)
	}
}

func TestSessionsDelete_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.delete(ctx, "/admin/sessions/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	err = decodeJSON(resp, &result)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestDecisionsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/decisions": `[{"id":"d1","sessionId":"s1","channel":"phone","utterance":"what do you do","kind":"SEARCH","pattern":"standard","confidence":0.82,"createdAt":"2026-01-01T00:00:00Z"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/admin/decisions?limit=20&session=s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rows []decisionRow
	if err := decodeJSON(resp, &rows); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(rows) != 1 || rows[0].Kind != "SEARCH" {
		t.Fatalf("rows = %+v", rows)
	}
	if ts.requests[0].Path != "/admin/decisions?limit=20&session=s1" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestFormatDecision(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	line := formatDecision(decisionRow{
		Channel:    "chat",
		Utterance:  "can you help me with my taxes",
		Kind:       "SEARCH",
		Pattern:    "tool_enhanced",
		Confidence: 0.4,
		Escalated:  true,
		CreatedAt:  "2026-01-01T00:00:00Z",
	})
	for _, want := range []string{"SEARCH/tool_enhanced*", "0.40", "chat", "taxes"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestDecisionColor(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"SEARCH/tool_enhanced*", colorCyan},
		{"DIRECT", colorGreen},
		{"CLARIFY*", colorYellow},
		{"UNKNOWN", colorBold},
	}
	for _, tc := range tests {
		if got := decisionColor(tc.kind); got != tc.want {
			t.Errorf("decisionColor(%q) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestCountItems(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/knowledge": `[{"id":"a"},{"id":"b"}]`,
	})

	n, ok := countItems(ts.server.Client(), ts.server.URL+"/admin/knowledge?limit=100", "test-token")
	if !ok || n != 2 {
		t.Errorf("countItems = %d, %v", n, ok)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}

	if _, ok := countItems(ts.server.Client(), ts.server.URL+"/missing", "test-token"); ok {
		t.Error("404 body should not count")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/admin/persona")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Ollama.FastModel = "phi3.5"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestPurgeEndpoint_CollectsFailures(t *testing.T) {
	callCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			w.Header().Set("Content-Type", "application/json")
			if callCount == 0 {
				callCount++
				w.Write([]byte(`[{"id":"doc-1"},{"id":"doc-2"}]`))
			} else {
				w.Write([]byte(`[]`))
			}
			return
		}
		if r.Method == "DELETE" {
			if strings.HasSuffix(r.URL.Path, "doc-1") {
				w.WriteHeader(500)
				w.Write([]byte(`{"error":{"message":"internal error"}}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"deleted"}`))
			return
		}
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "test",
		httpClient: ts.Client(),
	}

	failures, err := purgeEndpoint(ctx, client, "/items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}

func TestPurgeEndpoint_StopsOnStuckItems(t *testing.T) {
	gets := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			gets++
			w.Write([]byte(`[{"id":"stuck"}]`))
			return
		}
		w.WriteHeader(500)
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "test", httpClient: ts.Client()}

	failures, err := purgeEndpoint(ctx, client, "/items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failures != 1 || gets != 2 {
		t.Errorf("failures = %d after %d listings, want 1 after 2", failures, gets)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestFixedPhrases(t *testing.T) {
	got := fixedPhrases("es")
	if len(got) != 5 {
		t.Fatalf("fixedPhrases = %v", got)
	}
	for _, p := range got {
		if strings.TrimSpace(p) == "" {
			t.Error("empty phrase")
		}
	}
}
