package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/prompts"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

func newTestLoop(mock *mockLLM, reg *tools.Registry, deps Deps) *Loop {
	deps.LLM = mock
	return New(InvocationConfig{
		TenantID: "t1",
		Model:    "test-model",
		Tools:    reg,
		BotToken: "bot-token",
		Provider: "openai",
	}, deps)
}

func TestRun_NoToolCallsMakesOneCompletion(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("Hello there!")}}
	weather := &spyTool{name: "weather", result: "sunny"}

	resp, err := newTestLoop(mock, registryWith(weather), Deps{}).Run(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 completion call, got %d", len(mock.calls))
	}
	if resp.Content != "Hello there!" || resp.FinishReason != FinishStop {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Iterations != 1 || resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("accounting = %+v", resp)
	}
	if weather.count() != 0 {
		t.Error("no tool should run")
	}
	if len(mock.calls[0].Tools) != 1 {
		t.Errorf("tools sent = %d, want 1", len(mock.calls[0].Tools))
	}
}

func TestRun_EmptyRegistrySendsNoTools(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("ok")}}

	if _, err := newTestLoop(mock, nil, Deps{}).Run(context.Background(), &Request{Message: "hi"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if mock.calls[0].Tools != nil {
		t.Errorf("tools = %v, want nil for an empty registry", mock.calls[0].Tools)
	}
}

func TestRun_InitialTurns(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("nice photo")}}
	loop := newTestLoop(mock, nil, Deps{})
	loop.cfg.SystemPrompt = "You are Ferris."

	_, err := loop.Run(context.Background(), &Request{
		History: []Turn{
			{Role: llm.RoleUser, Content: "earlier question"},
			{Role: llm.RoleAssistant, Content: "earlier answer"},
		},
		Message:  "rate this",
		ImageURL: "https://img.example/a.png",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	msgs := mock.calls[0].Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || !strings.HasPrefix(msgs[0].Content, "You are Ferris.") {
		t.Errorf("system turn = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Error("history not preserved in order")
	}
	last := msgs[3]
	if last.Role != llm.RoleUser || last.Content != "rate this" || last.ImageURL != "https://img.example/a.png" {
		t.Errorf("user turn = %+v", last)
	}
}

func TestRun_UnknownToolIsNotDispatched(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(call("c1", "wether", `{"city":"Oslo"}`)),
		answer("Sorry, I mistyped."),
	}}
	weather := &spyTool{name: "weather", result: "sunny"}
	note := &recordingNotifier{}

	resp, err := newTestLoop(mock, registryWith(weather), Deps{Notifier: note}).Run(context.Background(),
		&Request{Message: "weather?", ChatID: "-100"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if weather.count() != 0 {
		t.Errorf("weather dispatched %d times, want 0", weather.count())
	}
	if len(note.sent) != 0 {
		t.Errorf("progress notes = %d, want 0 for an unknown tool", len(note.sent))
	}
	results := toolTurns(mock.calls[1].Messages)
	if len(results) != 1 {
		t.Fatalf("tool turns = %d, want 1", len(results))
	}
	want := `Tool "wether" is not available. Available tools are: weather`
	if results[0].Content != want || results[0].ToolCallID != "c1" {
		t.Errorf("tool turn = %+v, want content %q", results[0], want)
	}
	if !resp.ToolCalls[0].Failed {
		t.Error("record should be marked failed")
	}
}

func TestRun_StopsAtMaxIterations(t *testing.T) {
	mock := &mockLLM{repeat: toolCalls(call("c", "weather", `{}`))}
	weather := &spyTool{name: "weather", result: "sunny"}

	resp, err := newTestLoop(mock, registryWith(weather), Deps{}).Run(context.Background(), &Request{Message: "loop"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(mock.calls) != DefaultMaxIterations {
		t.Errorf("completion calls = %d, want %d", len(mock.calls), DefaultMaxIterations)
	}
	if resp.FinishReason != FinishMaxIterations {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Content != prompts.MaxIterationsMessage {
		t.Errorf("content = %q", resp.Content)
	}
	if weather.count() != DefaultMaxIterations {
		t.Errorf("tool runs = %d, want %d", weather.count(), DefaultMaxIterations)
	}
}

func TestRun_CompletionCallsNeverExceedMaxIterations(t *testing.T) {
	for maxIter := 1; maxIter <= 8; maxIter++ {
		for answerAt := 0; answerAt <= 10; answerAt++ {
			mock := &mockLLM{}
			for i := 0; i < answerAt; i++ {
				mock.responses = append(mock.responses, toolCalls(call("", "weather", `{}`)))
			}
			mock.responses = append(mock.responses, answer("done"))

			loop := newTestLoop(mock, registryWith(&spyTool{name: "weather", result: "ok"}), Deps{})
			loop.cfg.MaxIterations = maxIter
			resp, err := loop.Run(context.Background(), &Request{Message: "go"})
			if err != nil {
				t.Fatalf("max=%d answerAt=%d: Run() error: %v", maxIter, answerAt, err)
			}

			wantReason, wantCalls := FinishStop, answerAt+1
			if answerAt >= maxIter {
				wantReason, wantCalls = FinishMaxIterations, maxIter
			}
			if resp.FinishReason != wantReason || len(mock.calls) != wantCalls {
				t.Errorf("max=%d answerAt=%d: finish %q after %d completions, want %q after %d",
					maxIter, answerAt, resp.FinishReason, len(mock.calls), wantReason, wantCalls)
			}
		}
	}
}

func TestRun_ToolCallsAreSequentialAndAnsweredInOrder(t *testing.T) {
	var order []string
	a := &spyTool{name: "alpha", result: "A", order: &order}
	b := &spyTool{name: "beta", result: "B", order: &order}
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(call("c1", "beta", `{}`), call("c2", "alpha", `{"x":1}`), call("c3", "beta", ``)),
		answer("done"),
	}}

	if _, err := newTestLoop(mock, registryWith(a, b), Deps{}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if strings.Join(order, ",") != "beta,alpha,beta" {
		t.Errorf("dispatch order = %v", order)
	}
	msgs := mock.calls[1].Messages
	// system, user, assistant(3 calls), tool x3
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	if len(msgs[2].ToolCalls) != 3 {
		t.Fatalf("assistant turn should carry the 3 calls")
	}
	wantIDs := []string{"c1", "c2", "c3"}
	wantContent := []string{"B", "A", "B"}
	for i, m := range toolTurns(msgs) {
		if m.ToolCallID != wantIDs[i] || m.Content != wantContent[i] {
			t.Errorf("tool turn %d = %+v", i, m)
		}
	}
	if got := a.calls[0]["x"]; got != float64(1) {
		t.Errorf("alpha args x = %v", got)
	}
}

func TestRun_MissingCallIDsAreFilled(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCalls(call("", "weather", `{}`), call("", "weather", `{}`)),
		answer("done"),
	}}
	if _, err := newTestLoop(mock, registryWith(&spyTool{name: "weather"}), Deps{}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	results := toolTurns(mock.calls[1].Messages)
	if len(results) != 2 || results[0].ToolCallID == "" || results[0].ToolCallID == results[1].ToolCallID {
		t.Errorf("tool call ids = %+v", results)
	}
	assistant := mock.calls[1].Messages[2]
	if assistant.ToolCalls[0].ID != results[0].ToolCallID {
		t.Error("assistant call id and tool turn id differ")
	}
}

func TestRun_HandlerErrorIsSummarized(t *testing.T) {
	weather := &spyTool{name: "weather", err: errors.New("upstream said no\nstack trace line 1\nline 2")}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("sorry")}}

	resp, err := newTestLoop(mock, registryWith(weather), Deps{}).Run(context.Background(), &Request{Message: "go"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := toolTurns(mock.calls[1].Messages)[0].Content
	if got != "Error: weather failed: upstream said no" {
		t.Errorf("tool result = %q", got)
	}
	if resp.Content != "sorry" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestRun_HandlerPanicIsRecovered(t *testing.T) {
	weather := &spyTool{name: "weather", panic: "nil map write"}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("recovered")}}

	resp, err := newTestLoop(mock, registryWith(weather), Deps{}).Run(context.Background(), &Request{Message: "go"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := toolTurns(mock.calls[1].Messages)[0].Content
	if !strings.HasPrefix(got, "Error: weather failed: internal error: nil map write") {
		t.Errorf("tool result = %q", got)
	}
	if resp.Content != "recovered" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestRun_InvalidArgumentsAreReported(t *testing.T) {
	weather := &spyTool{name: "weather"}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{city: Oslo`)), answer("ok")}}

	if _, err := newTestLoop(mock, registryWith(weather), Deps{}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if weather.count() != 0 {
		t.Error("handler must not run with unparseable arguments")
	}
	if got := toolTurns(mock.calls[1].Messages)[0].Content; !strings.HasPrefix(got, "Error: invalid arguments for weather") {
		t.Errorf("tool result = %q", got)
	}
}

func TestRun_CompletionErrorIsFatal(t *testing.T) {
	mock := &mockLLM{err: errors.New("503 overloaded")}
	tracer := &recordingTracer{}

	resp, err := newTestLoop(mock, nil, Deps{Tracer: tracer}).Run(context.Background(), &Request{Message: "hi"})
	if !errors.Is(err, ErrCompletion) {
		t.Fatalf("err = %v, want ErrCompletion", err)
	}
	if resp != nil {
		t.Error("no response expected on completion failure")
	}
	if tracer.errored != 1 || tracer.completed != 0 {
		t.Errorf("tracer = %+v", tracer)
	}
}

func TestRun_NoClientIsCompletionError(t *testing.T) {
	loop := New(InvocationConfig{TenantID: "t1"}, Deps{})
	if _, err := loop.Run(context.Background(), &Request{Message: "hi"}); !errors.Is(err, ErrCompletion) {
		t.Fatalf("err = %v, want ErrCompletion", err)
	}
}

func TestRun_ProgressNotes(t *testing.T) {
	weather := &spyTool{name: tools.WebSearch, result: "results"}
	note := &recordingNotifier{}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", tools.WebSearch, `{}`)), answer("done")}}

	_, err := newTestLoop(mock, registryWith(weather), Deps{Notifier: note}).Run(context.Background(),
		&Request{Message: "news?", ChatID: "-100", ReplyTo: 9})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(note.sent) != 1 {
		t.Fatalf("notes = %d, want 1", len(note.sent))
	}
	got := note.sent[0]
	if got.BotToken != "bot-token" || got.ChatID != "-100" || got.ReplyTo != 9 {
		t.Errorf("note target = %+v", got)
	}
	if got.Text != prompts.ProgressNote(tools.WebSearch, "") {
		t.Errorf("note text = %q", got.Text)
	}
}

func TestRun_NotifierFailureIsTolerated(t *testing.T) {
	for _, note := range []*recordingNotifier{
		{err: errors.New("telegram down")},
		{panic: true},
	} {
		weather := &spyTool{name: "weather", result: "sunny"}
		mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("It is sunny.")}}

		resp, err := newTestLoop(mock, registryWith(weather), Deps{Notifier: note}).Run(context.Background(),
			&Request{Message: "weather?", ChatID: "-100"})
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if weather.count() != 1 {
			t.Error("tool must still run when notifications fail")
		}
		if resp.Content != "It is sunny." {
			t.Errorf("content = %q", resp.Content)
		}
	}
}

func TestRun_NoNotesWithoutChat(t *testing.T) {
	note := &recordingNotifier{}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("ok")}}

	if _, err := newTestLoop(mock, registryWith(&spyTool{name: "weather"}), Deps{Notifier: note}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(note.sent) != 0 {
		t.Errorf("notes = %d, want 0 without a chat", len(note.sent))
	}
}

func TestRun_TracerPanicIsTolerated(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("fine")}}
	resp, err := newTestLoop(mock, nil, Deps{Tracer: &recordingTracer{panicOn: true}}).Run(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "fine" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestRun_TracerSeesEveryCompletion(t *testing.T) {
	tracer := &recordingTracer{}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("ok")}}

	if _, err := newTestLoop(mock, registryWith(&spyTool{name: "weather"}), Deps{Tracer: tracer}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if tracer.started != 2 || tracer.completed != 2 || tracer.errored != 0 {
		t.Errorf("tracer = %+v", tracer)
	}
}

func TestRun_InvocationReachesHandler(t *testing.T) {
	scorer := &spyTool{name: tools.ScoreImage, result: "7/10"}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", tools.ScoreImage, `{}`)), answer("7 out of 10")}}

	_, err := newTestLoop(mock, registryWith(scorer), Deps{}).Run(context.Background(), &Request{
		Message:        "score it",
		ImageURL:       "https://img.example/cat.jpg",
		ChatID:         "-100",
		TelegramUserID: 42,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	inv := tools.InvocationFromContext(scorer.lastCtx)
	if inv.TenantID != "t1" || inv.ChatID != "-100" || inv.TelegramUserID != 42 || inv.ImageURL != "https://img.example/cat.jpg" {
		t.Errorf("invocation = %+v", inv)
	}
}

func TestRun_EmptyAnswerFallsBack(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{answer("   ")}}
	resp, err := newTestLoop(mock, nil, Deps{}).Run(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != prompts.EmptyResponseFallback || resp.FinishReason != FinishStop {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRun_RecordsUsagePerCompletion(t *testing.T) {
	u := &memUsage{fail: true}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("ok")}}

	resp, err := newTestLoop(mock, registryWith(&spyTool{name: "weather"}), Deps{Usage: u}).Run(context.Background(),
		&Request{RequestID: "r_fixed", Message: "go", ChatID: "-1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(u.records) != 2 {
		t.Fatalf("usage records = %d, want 2", len(u.records))
	}
	first := u.records[0]
	if first.RequestID != "r_fixed" || first.TenantID != "t1" || first.ChatID != "-1" || first.Iteration != 0 || first.Provider != "openai" {
		t.Errorf("first record = %+v", first)
	}
	if resp.InputTokens != 30 || resp.OutputTokens != 13 {
		t.Errorf("totals = %d/%d, want 30/13", resp.InputTokens, resp.OutputTokens)
	}
}

func TestRun_CustomToolUsesExecutorAndDisplayName(t *testing.T) {
	exec := &spyExecutor{result: `{"temp": 21}`}
	custom := []*store.CustomTool{{ID: "ct1", Name: "weather", DisplayName: "Weather Lookup", IsEnabled: true}}
	reg := tools.Build(nil, custom, nil, exec, nil)
	note := &recordingNotifier{}
	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{"city":"Oslo"}`)), answer("21 degrees")}}

	if _, err := newTestLoop(mock, reg, Deps{Notifier: note}).Run(context.Background(), &Request{Message: "weather?", ChatID: "1"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if exec.calls != 1 || exec.lastArgs["city"] != "Oslo" {
		t.Errorf("executor calls = %d args = %v", exec.calls, exec.lastArgs)
	}
	if note.sent[0].Text != "⚙️ Running Weather Lookup..." {
		t.Errorf("note = %q", note.sent[0].Text)
	}
	if got := toolTurns(mock.calls[1].Messages)[0].Content; got != `{"temp": 21}` {
		t.Errorf("tool result = %q", got)
	}
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(32)
	defer bus.Unsubscribe(ch)

	mock := &mockLLM{responses: []*llm.ChatResponse{toolCalls(call("c1", "weather", `{}`)), answer("ok")}}
	if _, err := newTestLoop(mock, registryWith(&spyTool{name: "weather"}), Deps{Bus: bus}).Run(context.Background(), &Request{Message: "go"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 8 {
		select {
		case ev := <-ch:
			if ev.TenantID != "t1" {
				t.Errorf("event tenant = %q", ev.TenantID)
			}
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("got events %v", kinds)
		}
	}
	want := "request_start,llm_call,llm_response,tool_call,tool_done,llm_call,llm_response,request_complete"
	if strings.Join(kinds, ",") != want {
		t.Errorf("events = %v", kinds)
	}
}

func TestHistoryTurns(t *testing.T) {
	lines := []HistoryLine{
		{Role: "user", Content: "one"},
		{Role: "system", Content: "ignored"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: ""},
		{Role: "user", Content: "three"},
	}
	got := HistoryTurns(lines, 2)
	if len(got) != 2 || got[0].Content != "two" || got[1].Content != "three" {
		t.Errorf("HistoryTurns = %+v", got)
	}
	if all := HistoryTurns(lines, 0); len(all) != 3 {
		t.Errorf("unlimited = %d turns, want 3", len(all))
	}
}
