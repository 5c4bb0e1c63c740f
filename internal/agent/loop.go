package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/prompts"
	"github.com/jackmielke/agentdash/internal/tools"
	"github.com/jackmielke/agentdash/internal/usage"
)

// notifyTimeout bounds a single progress note.
const notifyTimeout = 5 * time.Second

// Loop runs one invocation. Create it with New; a Loop may serve several
// Run calls but holds no conversation state between them.
type Loop struct {
	cfg    InvocationConfig
	deps   Deps
	tools  *tools.Registry
	logger *slog.Logger
}

// New creates a loop for cfg. Missing optional dependencies are
// replaced with no-op implementations.
func New(cfg InvocationConfig, deps Deps) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = nopTracer{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	reg := cfg.Tools
	if reg == nil {
		reg = tools.Build(nil, nil, nil, nil, deps.Logger)
	}
	return &Loop{
		cfg:    cfg,
		deps:   deps,
		tools:  reg,
		logger: deps.Logger.With("tenant", cfg.TenantID),
	}
}

// run is the mutable state of one Run call.
type run struct {
	id       string
	req      *Request
	turns    []Turn
	defs     []map[string]any
	resp     *Response
	started  time.Time
	toolSeen int
}

// Run answers req. The returned error is non-nil only when a completion
// call fails (wrapping ErrCompletion) or ctx ends during one; every tool
// failure is fed back to the model as result text instead.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	if l.deps.LLM == nil {
		return nil, fmt.Errorf("%w: no completion client configured", ErrCompletion)
	}

	r := &run{
		id:      req.RequestID,
		req:     req,
		started: l.deps.Now(),
	}
	if r.id == "" {
		r.id = generateRequestID()
	}
	r.resp = &Response{RequestID: r.id, Model: l.cfg.Model}

	// Tools are only advertised when there is at least one.
	if l.tools.Len() > 0 {
		r.defs = l.tools.Definitions()
	}
	r.turns = l.initialTurns(req)

	ctx = tools.WithInvocation(ctx, tools.Invocation{
		TenantID:       l.cfg.TenantID,
		ChatID:         req.ChatID,
		TelegramUserID: req.TelegramUserID,
		ImageURL:       req.ImageURL,
	})

	log := l.logger.With("request_id", r.id)
	log.Info("agent run started",
		"model", l.cfg.Model,
		"history", len(req.History),
		"tools", l.tools.Len(),
		"has_image", req.ImageURL != "",
	)
	l.emit(events.KindRequestStart, map[string]any{
		"request_id": r.id,
		"chat_id":    req.ChatID,
		"tools":      l.tools.Names(),
	})

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		r.resp.Iterations = iter + 1

		resp, err := l.complete(ctx, r, iter)
		if err != nil {
			log.Error("completion failed", "iter", iter, "error", err)
			l.finish(ctx, r, "error")
			return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			content := strings.TrimSpace(resp.Message.Content)
			if content == "" {
				log.Warn("model returned an empty answer", "iter", iter)
				content = prompts.EmptyResponseFallback
			}
			r.resp.Content = content
			r.resp.FinishReason = FinishStop
			l.finish(ctx, r, FinishStop)
			return r.resp, nil
		}

		r.turns = append(r.turns, Turn{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: l.withCallIDs(r, calls),
		})
		for _, call := range r.turns[len(r.turns)-1].ToolCalls {
			rec := l.dispatch(ctx, r, call)
			r.resp.ToolCalls = append(r.resp.ToolCalls, rec)
			r.turns = append(r.turns, Turn{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    rec.Result,
			})
		}
	}

	log.Warn("iteration budget exhausted", "max_iterations", l.cfg.MaxIterations)
	r.resp.Content = prompts.MaxIterationsMessage
	r.resp.FinishReason = FinishMaxIterations
	l.finish(ctx, r, FinishMaxIterations)
	return r.resp, nil
}

// initialTurns builds [system] + history + [user].
func (l *Loop) initialTurns(req *Request) []Turn {
	system := prompts.SystemPrompt(l.cfg.SystemPrompt, l.cfg.CommunityName, l.deps.Now(), l.tools.Names())
	turns := make([]Turn, 0, len(req.History)+2)
	turns = append(turns, Turn{Role: llm.RoleSystem, Content: system})
	turns = append(turns, req.History...)
	turns = append(turns, Turn{Role: llm.RoleUser, Content: req.Message, ImageURL: req.ImageURL})
	return turns
}

// withCallIDs fills in missing tool call IDs so every call can be
// answered by exactly one tool turn.
func (l *Loop) withCallIDs(r *run, calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		r.toolSeen++
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", r.toolSeen)
		}
		out[i] = c
	}
	return out
}

// complete performs one completion call with tracing, events and usage
// accounting.
func (l *Loop) complete(ctx context.Context, r *run, iter int) (*llm.ChatResponse, error) {
	msgs := toLLMMessages(r.turns)

	spanCtx, span := l.startSpan(ctx, iter, len(r.defs))
	l.emit(events.KindLLMCall, map[string]any{
		"request_id": r.id,
		"iter":       iter,
		"model":      l.cfg.Model,
	})
	l.logger.Log(ctx, config.LevelTrace, "completion request",
		"request_id", r.id, "iter", iter, "messages", len(msgs), "tools", len(r.defs))

	resp, err := l.deps.LLM.Chat(spanCtx, l.cfg.Model, msgs, r.defs)
	if err != nil {
		l.safely("trace error", func() { span.RecordError(err) })
		return nil, err
	}
	if resp == nil {
		err := fmt.Errorf("empty response from completion service")
		l.safely("trace error", func() { span.RecordError(err) })
		return nil, err
	}
	l.safely("trace completion", func() {
		span.Complete(resp.InputTokens, resp.OutputTokens, len(resp.Message.ToolCalls), resp.FinishReason)
	})

	r.resp.InputTokens += resp.InputTokens
	r.resp.OutputTokens += resp.OutputTokens
	if resp.Model != "" {
		r.resp.Model = resp.Model
	}
	l.recordUsage(ctx, r, iter, resp)

	l.emit(events.KindLLMResponse, map[string]any{
		"request_id": r.id,
		"iter":       iter,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	l.logger.Debug("completion finished",
		"request_id", r.id,
		"iter", iter,
		"tool_calls", len(resp.Message.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return resp, nil
}

// startSpan opens a completion span. A panicking tracer degrades to a
// no-op span.
func (l *Loop) startSpan(ctx context.Context, iter, toolCount int) (spanCtx context.Context, span observe.CompletionSpan) {
	spanCtx, span = ctx, observe.NopSpan{}
	l.safely("trace start", func() {
		c, s := l.deps.Tracer.StartCompletion(ctx, l.cfg.Model, iter, toolCount)
		if c != nil && s != nil {
			spanCtx, span = c, s
		}
	})
	return spanCtx, span
}

func (l *Loop) recordUsage(ctx context.Context, r *run, iter int, resp *llm.ChatResponse) {
	if l.deps.Usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = l.cfg.Model
	}
	rec := usage.Record{
		Timestamp:    l.deps.Now(),
		RequestID:    r.id,
		TenantID:     l.cfg.TenantID,
		ChatID:       r.req.ChatID,
		Model:        model,
		Provider:     l.cfg.Provider,
		Iteration:    iter,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      usage.ComputeCost(model, resp.InputTokens, resp.OutputTokens, l.deps.Pricing),
	}
	if err := l.deps.Usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record usage", "request_id", r.id, "error", err)
	}
}

// dispatch runs one tool call and returns its record. It never fails:
// unknown names, bad arguments, handler errors and panics all become
// result text.
func (l *Loop) dispatch(ctx context.Context, r *run, call llm.ToolCall) ToolCallRecord {
	name := call.Function.Name
	rec := ToolCallRecord{ID: call.ID, Name: name}
	log := l.logger.With("request_id", r.id, "tool", name, "call_id", call.ID)

	if !l.tools.Has(name) {
		rec.Result = (&tools.ErrToolUnavailable{ToolName: name, Available: l.tools.Names()}).Error()
		rec.Failed = true
		log.Warn("model requested an unavailable tool")
		return rec
	}

	args, err := call.ParseArguments()
	if err != nil {
		rec.Result = fmt.Sprintf("Error: invalid arguments for %s: %v. Send a JSON object.", name, err)
		rec.Failed = true
		log.Warn("tool arguments are not valid JSON", "error", err)
		return rec
	}

	spec, _ := l.tools.Spec(name)
	l.progress(ctx, r, spec)

	l.emit(events.KindToolCall, map[string]any{"request_id": r.id, "tool": name})
	start := l.deps.Now()
	out, err := l.invoke(ctx, name, args)
	rec.Duration = l.deps.Now().Sub(start)

	if err != nil {
		rec.Result = tools.FormatError(err)
		rec.Failed = true
		log.Warn("tool failed", "error", err, "elapsed", rec.Duration)
	} else {
		rec.Result = out
		log.Info("tool executed", "elapsed", rec.Duration, "result_len", len(out))
	}
	log.Log(ctx, config.LevelTrace, "tool result", "result", rec.Result)

	kind, status := "builtin", "ok"
	if spec.Custom {
		kind = "custom"
	}
	if rec.Failed {
		status = "error"
	}
	l.deps.Metrics.RecordToolCall(ctx, name, kind, status, rec.Duration.Seconds())
	l.emit(events.KindToolDone, map[string]any{
		"request_id":  r.id,
		"tool":        name,
		"ok":          !rec.Failed,
		"duration_ms": rec.Duration.Milliseconds(),
	})
	return rec
}

// invoke calls the registry, converting a handler panic into a tool error.
func (l *Loop) invoke(ctx context.Context, name string, args map[string]any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("tool handler panicked",
				"tool", name, "panic", p, "stack", string(debug.Stack()))
			out, err = "", &tools.ToolError{Tool: name, Err: fmt.Errorf("internal error: %v", p)}
		}
	}()
	return l.tools.Invoke(ctx, name, args)
}

// progress posts a best-effort note announcing a tool call. Failures
// (including a panicking notifier) are logged and ignored.
func (l *Loop) progress(ctx context.Context, r *run, spec tools.Spec) {
	if r.req.ChatID == "" || l.cfg.BotToken == "" {
		return
	}
	label := ""
	if spec.Config != nil {
		label = spec.Config.DisplayName
	}
	msg := notify.Message{
		BotToken: l.cfg.BotToken,
		ChatID:   r.req.ChatID,
		Text:     prompts.ProgressNote(spec.Name, label),
		ReplyTo:  r.req.ReplyTo,
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	l.safely("progress note", func() {
		if err := l.deps.Notifier.Send(nctx, msg); err != nil {
			l.logger.Warn("progress note failed", "request_id", r.id, "tool", spec.Name, "error", err)
		}
	})
}

func (l *Loop) finish(ctx context.Context, r *run, reason string) {
	elapsed := l.deps.Now().Sub(r.started)
	l.deps.Metrics.RecordRun(ctx, reason, r.resp.Iterations)
	l.emit(events.KindRequestComplete, map[string]any{
		"request_id":       r.id,
		"model":            r.resp.Model,
		"iterations":       r.resp.Iterations,
		"finish_reason":    reason,
		"total_tokens_in":  r.resp.InputTokens,
		"total_tokens_out": r.resp.OutputTokens,
		"elapsed_ms":       elapsed.Milliseconds(),
	})
	l.logger.Info("agent run finished",
		"request_id", r.id,
		"finish_reason", reason,
		"iterations", r.resp.Iterations,
		"tool_calls", len(r.resp.ToolCalls),
		"input_tokens", r.resp.InputTokens,
		"output_tokens", r.resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

func (l *Loop) emit(kind string, data map[string]any) {
	l.deps.Bus.Emit(events.SourceAgent, kind, l.cfg.TenantID, data)
}

// safely runs fn, logging instead of propagating a panic. It guards
// calls into optional collaborators whose failure must not end a run.
func (l *Loop) safely(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("recovered panic", "in", what, "panic", p)
		}
	}()
	fn()
}
