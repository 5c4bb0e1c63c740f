package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
	"github.com/jackmielke/agentdash/internal/usage"
)

// mockLLM returns pre-configured responses in sequence and records each call.
// When repeat is set it is returned once responses run out.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	repeat    *llm.ChatResponse
	err       error
	callIndex int
	calls     []mockLLMCall
}

type mockLLMCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, td []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, mockLLMCall{Model: model, Messages: msgs, Tools: td})
	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		if m.repeat != nil {
			return m.repeat, nil
		}
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func answer(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func toolCalls(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		FinishReason: "tool_calls",
		InputTokens:  20,
		OutputTokens: 8,
	}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// spyTool records every dispatch.
type spyTool struct {
	mu      sync.Mutex
	calls   []map[string]any
	result  string
	err     error
	panic   any
	order   *[]string
	name    string
	lastCtx context.Context
}

func (s *spyTool) handle(ctx context.Context, args map[string]any) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.lastCtx = ctx
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	s.mu.Unlock()
	if s.panic != nil {
		panic(s.panic)
	}
	return s.result, s.err
}

func (s *spyTool) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// registryWith builds a registry with one enabled built-in per spy.
func registryWith(spies ...*spyTool) *tools.Registry {
	enabled := map[string]bool{}
	var builtins []*tools.Tool
	for _, s := range spies {
		enabled[s.name] = true
		builtins = append(builtins, &tools.Tool{
			Name:        s.name,
			Description: "test tool " + s.name,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Handler:     s.handle,
		})
	}
	return tools.Build(enabled, nil, builtins, nil, nil)
}

// recordingNotifier records sent messages and optionally fails.
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []notify.Message
	err   error
	panic bool
}

func (n *recordingNotifier) Send(_ context.Context, m notify.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, m)
	n.mu.Unlock()
	if n.panic {
		panic("notifier exploded")
	}
	return n.err
}

// recordingTracer counts span outcomes.
type recordingTracer struct {
	mu        sync.Mutex
	started   int
	completed int
	errored   int
	panicOn   bool
}

func (t *recordingTracer) StartCompletion(ctx context.Context, _ string, _, _ int) (context.Context, observe.CompletionSpan) {
	if t.panicOn {
		panic("tracer exploded")
	}
	t.mu.Lock()
	t.started++
	t.mu.Unlock()
	return ctx, &recordingSpan{t: t}
}

type recordingSpan struct{ t *recordingTracer }

func (s *recordingSpan) Complete(int, int, int, string) {
	s.t.mu.Lock()
	s.t.completed++
	s.t.mu.Unlock()
}

func (s *recordingSpan) RecordError(error) {
	s.t.mu.Lock()
	s.t.errored++
	s.t.mu.Unlock()
}

type memUsage struct {
	mu      sync.Mutex
	records []usage.Record
	fail    bool
}

func (u *memUsage) Record(_ context.Context, rec usage.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
	if u.fail {
		return errors.New("db locked")
	}
	return nil
}

// toolTurns returns the tool messages of a completion call in order.
func toolTurns(msgs []llm.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

type spyExecutor struct {
	mu       sync.Mutex
	calls    int
	lastArgs map[string]any
	result   string
}

func (s *spyExecutor) Call(_ context.Context, _ *store.CustomTool, args map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastArgs = args
	return s.result
}
