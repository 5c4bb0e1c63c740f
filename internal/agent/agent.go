// Package agent runs the tool-calling conversation loop for one chat
// invocation: it asks the completion service for the next step,
// dispatches the tool calls the model requests, feeds the results back
// and stops on a final answer or when the iteration budget is spent.
package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/tools"
	"github.com/jackmielke/agentdash/internal/usage"
)

// DefaultMaxIterations bounds completion calls per run.
const DefaultMaxIterations = 5

// Finish reasons reported in Response.FinishReason.
const (
	FinishStop          = "stop"
	FinishMaxIterations = "max_iterations"
)

// ErrCompletion marks a failed completion call. It is the only error Run
// returns after a run has started; tool failures never abort a run.
var ErrCompletion = errors.New("completion failed")

// Turn is one entry of the conversation sent to the model.
type Turn struct {
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
}

// Request is one user message to answer.
type Request struct {
	// RequestID correlates logs and events; generated when empty.
	RequestID string
	// History holds prior user and assistant turns, oldest first.
	History []Turn
	// Message is the user's text.
	Message string
	// ImageURL is an image attached to the message, if any.
	ImageURL string
	// ChatID is the chat progress notes are posted to. Empty disables
	// progress notes.
	ChatID string
	// ReplyTo threads progress notes under the triggering message.
	ReplyTo int64
	// TelegramUserID identifies the requesting member, when known.
	TelegramUserID int64
}

// ToolCallRecord summarizes one dispatched tool call.
type ToolCallRecord struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Result   string        `json:"result"`
	Failed   bool          `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Response is the outcome of a run.
type Response struct {
	RequestID    string           `json:"request_id"`
	Content      string           `json:"content"`
	Model        string           `json:"model"`
	FinishReason string           `json:"finish_reason"`
	Iterations   int              `json:"iterations"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`
}

// InvocationConfig holds the per-invocation settings of a run.
type InvocationConfig struct {
	TenantID      string
	CommunityName string
	Model         string
	// SystemPrompt is the tenant's prompt; empty selects the default.
	SystemPrompt string
	// Tools is the registry assembled for this invocation. Nil means
	// no tools.
	Tools *tools.Registry
	// MaxIterations bounds completion calls; zero selects
	// DefaultMaxIterations.
	MaxIterations int
	// BotToken selects the bot progress notes are sent with.
	BotToken string
	// Provider labels usage records ("openai", "ollama").
	Provider string
}

// Tracer opens a span for each completion call.
type Tracer interface {
	StartCompletion(ctx context.Context, model string, iteration, toolCount int) (context.Context, observe.CompletionSpan)
}

// UsageRecorder persists per-call token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Deps holds the long-lived collaborators shared by runs. Only LLM is
// required.
type Deps struct {
	LLM      llm.Client
	Notifier notify.Notifier
	Tracer   Tracer
	Bus      *events.Bus
	Metrics  *observe.Metrics
	Usage    UsageRecorder
	Pricing  map[string]config.PricingEntry
	Logger   *slog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type nopTracer struct{}

func (nopTracer) StartCompletion(ctx context.Context, _ string, _, _ int) (context.Context, observe.CompletionSpan) {
	return ctx, observe.NopSpan{}
}

// generateRequestID returns a short random identifier: "r_" followed by
// 8 hex characters.
func generateRequestID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "r_00000000"
	}
	return "r_" + hex.EncodeToString(b[:])
}
