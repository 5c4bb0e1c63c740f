package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text no JSON", content: "The forecast looks clear.", wantCount: 0},
		{
			name:      "single tool call object",
			content:   `{"name": "web_search", "arguments": {"query": "weather"}}`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "web_search", "arguments": {"query": "x"}}, {"name": "read_knowledge_base", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "web_search",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "fetch_webpage", "arguments": {"url": "https://example.com"}}</tool_call>`,
			wantCount: 1,
			wantName:  "fetch_webpage",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "fetch_webpage", "arguments": {"url": "https://example.com"}}`,
			wantCount: 1,
			wantName:  "fetch_webpage",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me look that up. <tool_call>{"name": "web_search", "arguments": {"query": "x"}}</tool_call>`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{name: "malformed JSON", content: `{"name": "web_search", "arguments": {`, wantCount: 0},
		{name: "JSON without name", content: `{"foo": "bar", "arguments": {}}`, wantCount: 0},
		{
			name:       "unknown tool rejected",
			content:    `{"name": "hack_the_planet", "arguments": {}}`,
			validTools: []string{"web_search"},
			wantCount:  0,
		},
		{
			name:       "mixed valid and invalid",
			content:    `[{"name": "web_search", "arguments": {}}, {"name": "nope", "arguments": {}}]`,
			validTools: []string{"web_search"},
			wantCount:  1,
			wantName:   "web_search",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
			for _, c := range got {
				if c.ID == "" {
					t.Error("parsed call has empty ID")
				}
			}
		})
	}
}

func TestParseTextToolCalls_ArgumentsAreJSON(t *testing.T) {
	got := parseTextToolCalls(`{"name": "web_search", "arguments": {"query": "go", "limit": 3}}`, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	args, err := got[0].ParseArguments()
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if args["query"] != "go" {
		t.Errorf("query = %v, want go", args["query"])
	}
	if args["limit"] != float64(3) {
		t.Errorf("limit = %v, want 3", args["limit"])
	}
}

func TestExtractToolNames(t *testing.T) {
	tools := []map[string]any{
		{"type": "function", "function": map[string]any{"name": "web_search"}},
		{"type": "function", "function": map[string]any{"name": ""}},
		{"type": "function"},
		{"type": "function", "function": map[string]any{"name": "fetch_webpage"}},
	}
	got := extractToolNames(tools)
	if len(got) != 2 || got[0] != "web_search" || got[1] != "fetch_webpage" {
		t.Errorf("extractToolNames() = %v", got)
	}
}

func TestOllamaWireResponse_ToChatResponse(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"function": {"name": "web_search", "arguments": {"query": "go"}}}]
		},
		"done": true,
		"done_reason": "stop",
		"total_duration": 1234567890,
		"prompt_eval_count": 42,
		"eval_count": 15
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if resp.CreatedAt.Year() != 2026 || resp.CreatedAt.Month() != time.February {
		t.Errorf("CreatedAt = %v, expected 2026-02", resp.CreatedAt)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1234567890*time.Nanosecond {
		t.Errorf("TotalDuration = %v", resp.TotalDuration)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_0" {
		t.Errorf("synthesized ID = %q, want call_0", tc.ID)
	}
	if tc.Function.Arguments != `{"query":"go"}` {
		t.Errorf("Arguments = %q", tc.Function.Arguments)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"hello"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, time.Second, nil)
	messages := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Function: FunctionCall{Name: "web_search", Arguments: `{"query":"x"}`}}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "result"},
	}
	resp, err := c.Chat(context.Background(), "m", messages, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hello" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if got.Stream {
		t.Error("request should not stream")
	}
	if len(got.Messages) != 3 {
		t.Fatalf("sent %d messages, want 3", len(got.Messages))
	}
	if got.Messages[1].ToolCalls[0].Function.Arguments["query"] != "x" {
		t.Errorf("tool call arguments not converted to object: %+v", got.Messages[1].ToolCalls[0])
	}
}

func TestOllamaClient_ChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, time.Second, nil)
	if _, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for 404")
	}
}
