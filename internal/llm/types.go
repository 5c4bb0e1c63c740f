package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ImageURL, when set on a user message, is sent alongside Content
	// as an image content part.
	ImageURL   string     `json:"image_url,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool to run. Arguments is the raw JSON object
// text produced by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the call's JSON arguments. An empty argument
// string yields an empty map.
func (tc ToolCall) ParseArguments() (map[string]any, error) {
	args := map[string]any{}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse arguments for %s: %w", tc.Function.Name, err)
	}
	return args, nil
}

// ChatResponse is the unified response from any completion provider.
// Wire format conversion happens at provider boundaries (openai.go,
// ollama.go).
type ChatResponse struct {
	Model        string
	CreatedAt    time.Time
	Message      Message
	FinishReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// TotalDuration is wall-clock time for the call as measured by the
	// client.
	TotalDuration time.Duration
}
