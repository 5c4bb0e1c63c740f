package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeCompletions serves /chat/completions and records request bodies.
type fakeCompletions struct {
	mu       sync.Mutex
	bodies   []map[string]any
	status   int
	response string
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	w.Write([]byte(f.response))
}

const toolCallCompletion = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1760000000,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "tool_calls",
		"message": {
			"role": "assistant",
			"content": null,
			"tool_calls": [{
				"id": "call_abc",
				"type": "function",
				"function": {"name": "web_search", "arguments": "{\"query\":\"go\"}"}
			}]
		}
	}],
	"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
}`

func newTestOpenAI(t *testing.T, f *fakeCompletions) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, nil)
}

func TestOpenAIClient_ChatToolCalls(t *testing.T) {
	f := &fakeCompletions{response: toolCallCompletion}
	c := newTestOpenAI(t, f)

	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web",
			"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}}
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Function.Name != "web_search" || tc.Function.Arguments != `{"query":"go"}` {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if resp.InputTokens != 11 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 11/7", resp.InputTokens, resp.OutputTokens)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}

	body := f.bodies[0]
	if body["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", body["tool_choice"])
	}
	if tools, ok := body["tools"].([]any); !ok || len(tools) != 1 {
		t.Errorf("tools = %v, want 1 entry", body["tools"])
	}
}

func TestOpenAIClient_NoToolsOmitsToolFields(t *testing.T) {
	f := &fakeCompletions{response: `{"id":"x","object":"chat.completion","created":1,"model":"m",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]}`}
	c := newTestOpenAI(t, f)

	resp, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "done" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if _, ok := f.bodies[0]["tools"]; ok {
		t.Error("tools must be omitted when none are registered")
	}
	if _, ok := f.bodies[0]["tool_choice"]; ok {
		t.Error("tool_choice must be omitted when no tools are sent")
	}
}

func TestOpenAIClient_ImageMessageUsesContentParts(t *testing.T) {
	f := &fakeCompletions{response: `{"id":"x","object":"chat.completion","created":1,"model":"m",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"nice"}}]}`}
	c := newTestOpenAI(t, f)

	msgs := []Message{{Role: RoleUser, Content: "rate this", ImageURL: "https://img.example/a.png"}}
	if _, err := c.Chat(context.Background(), "m", msgs, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	sent := f.bodies[0]["messages"].([]any)[0].(map[string]any)
	parts, ok := sent["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("content = %v, want 2 parts", sent["content"])
	}
	if parts[1].(map[string]any)["type"] != "image_url" {
		t.Errorf("second part = %v, want image_url", parts[1])
	}
}

func TestOpenAIClient_ServerErrorIsReturned(t *testing.T) {
	f := &fakeCompletions{status: http.StatusInternalServerError, response: `{"error":{"message":"boom"}}`}
	c := newTestOpenAI(t, f)

	if _, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error")
	}
	if len(f.bodies) != 1 {
		t.Errorf("expected exactly 1 request (no retries), got %d", len(f.bodies))
	}
}

func TestToOpenAIMessage_UnknownRole(t *testing.T) {
	if _, err := toOpenAIMessage(Message{Role: "narrator"}); err == nil {
		t.Error("expected error for unknown role")
	}
}
