// Package customtool executes tenant-defined tools backed by external
// HTTP APIs. Every call is validated against the tool's parameter
// schema, bounded by the tool's own timeout, recorded in the execution
// log and reflected in the tool's health fields.
package customtool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/httpkit"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/template"
)

const (
	// DefaultTimeout bounds a call when the tool sets no timeout.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20

	// maxErrorBodyChars caps the response body quoted in error text.
	maxErrorBodyChars = 500

	// maxLogOutputChars caps the output stored in the execution log.
	maxLogOutputChars = 4000

	// bookkeepingTimeout bounds the health update and log insert,
	// which run even if the caller's context is already done.
	bookkeepingTimeout = 5 * time.Second
)

// Stores is the storage the executor writes health and audit records to.
type Stores interface {
	store.CustomToolStore
	store.ExecutionLogStore
}

// Result is the outcome of one custom tool call.
type Result struct {
	// Text is what the model sees as the tool result.
	Text string
	// OK reports whether the endpoint answered with a 2xx/3xx status.
	OK bool
	// Log is the execution log entry appended for this call.
	Log *store.ExecutionLog
}

// Executor calls custom tool endpoints. It is safe for concurrent use.
type Executor struct {
	stores  Stores
	client  *http.Client
	metrics *observe.Metrics
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default HTTP client. Per-call timeouts are
// applied through the request context either way.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithMetrics records per-call tool metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithEventBus publishes an event after every call.
func WithEventBus(b *events.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// NewExecutor creates an executor writing to stores.
func NewExecutor(stores Stores, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		stores: stores,
		// The overall timeout comes from each tool's own setting.
		client: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Call executes the tool and returns only the result text. It satisfies
// the registry's custom executor interface.
func (e *Executor) Call(ctx context.Context, cfg *store.CustomTool, args map[string]any) string {
	return e.Execute(ctx, cfg, args).Text
}

// Execute performs one call of cfg with args. It never returns an
// error: every failure is reported in Result.Text so the model can
// react to it.
func (e *Executor) Execute(ctx context.Context, cfg *store.CustomTool, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	start := e.now()

	ctx, span := observe.StartSpan(ctx, "custom_tool "+cfg.Name, trace.WithAttributes(
		attribute.String("agentdash.tool.name", cfg.Name),
		attribute.String("agentdash.tool.id", cfg.ID),
		attribute.String("agentdash.tenant.id", cfg.TenantID),
	))
	defer span.End()

	log := &store.ExecutionLog{
		ToolID:   cfg.ID,
		TenantID: cfg.TenantID,
		Input:    encodeArgs(args),
	}

	if err := ValidateArgs(cfg, args, e.logger); err != nil {
		e.logger.Warn("custom tool arguments rejected",
			"tenant", cfg.TenantID, "tool", cfg.Name, "error", err)
		text := fmt.Sprintf("Error: invalid arguments for %s: %v", cfg.Name, err)
		log.ErrorMessage = err.Error()
		log.Output = text
		e.finish(ctx, cfg, log, start, false, false)
		span.SetStatus(codes.Error, "invalid arguments")
		return Result{Text: text, Log: log}
	}

	status, body, err := e.send(ctx, cfg, args)
	log.StatusCode = status

	var (
		text string
		ok   bool
	)
	switch {
	case err != nil:
		text = describeFailure(cfg, err)
		log.ErrorMessage = err.Error()
		span.RecordError(err)
	case status >= http.StatusBadRequest:
		detail := truncate(strings.TrimSpace(string(body)), maxErrorBodyChars)
		text = fmt.Sprintf("Error: %s returned HTTP %d: %s", cfg.Name, status, detail)
		log.ErrorMessage = fmt.Sprintf("HTTP %d", status)
		if detail != "" {
			log.ErrorMessage += ": " + detail
		}
	default:
		text = renderBody(body, status, cfg.ResponseMapping)
		ok = true
	}
	if ok {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, log.ErrorMessage)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	log.Output = truncate(text, maxLogOutputChars)
	e.finish(ctx, cfg, log, start, ok, true)
	return Result{Text: text, OK: ok, Log: log}
}

// send issues the HTTP request bounded by the tool timeout and returns
// the status code and (size-limited) body.
func (e *Executor) send(ctx context.Context, cfg *store.CustomTool, args map[string]any) (int, []byte, error) {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := e.newRequest(ctx, cfg, args)
	if err != nil {
		return 0, nil, err
	}

	e.logger.Debug("custom tool request",
		"tenant", cfg.TenantID, "tool", cfg.Name, "method", req.Method, "url", req.URL.Redacted())

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return 0, nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	body, _, err := httpkit.ReadLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	e.logger.Log(ctx, config.LevelTrace, "custom tool response",
		"tool", cfg.Name, "status", resp.StatusCode, "body", string(body))
	return resp.StatusCode, body, nil
}

func (e *Executor) newRequest(ctx context.Context, cfg *store.CustomTool, args map[string]any) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(cfg.HTTPMethod))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	endpoint := cfg.EndpointURL
	if method == http.MethodGet {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		q := u.Query()
		for _, k := range slices.Sorted(maps.Keys(args)) {
			q.Set(k, template.Stringify(args[k]))
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	} else {
		payload := template.RenderRequest(e.requestTemplate(cfg), args)
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	switch cfg.AuthType {
	case store.AuthAPIKey:
		req.Header.Set("X-API-Key", cfg.AuthValue)
	case store.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.AuthValue)
	}
	return req, nil
}

// requestTemplate decodes the stored request template. An absent or
// malformed template yields nil, which sends the arguments as-is.
func (e *Executor) requestTemplate(cfg *store.CustomTool) any {
	if len(bytes.TrimSpace(cfg.RequestTemplate)) == 0 {
		return nil
	}
	var tmpl any
	if err := json.Unmarshal(cfg.RequestTemplate, &tmpl); err != nil {
		e.logger.Warn("ignoring malformed request template",
			"tenant", cfg.TenantID, "tool", cfg.Name, "error", err)
		return nil
	}
	return tmpl
}

// finish writes the health update (when the endpoint was contacted) and
// the execution log, then records metrics and publishes an event.
// Storage failures are logged and never change the result.
func (e *Executor) finish(ctx context.Context, cfg *store.CustomTool, log *store.ExecutionLog, start time.Time, ok, contacted bool) {
	elapsed := e.now().Sub(start)
	log.ExecutionTimeMs = elapsed.Milliseconds()
	log.CreatedAt = start

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if contacted && e.stores != nil {
		var err error
		if ok {
			err = e.stores.RecordToolSuccess(bctx, cfg.ID, start, truncate(log.Output, maxErrorBodyChars))
		} else {
			err = e.stores.RecordToolFailure(bctx, cfg.ID, start, log.ErrorMessage)
		}
		if err != nil {
			e.logger.Error("failed to update custom tool health",
				"tenant", cfg.TenantID, "tool", cfg.Name, "error", err)
		}
	}
	if e.stores != nil {
		if err := e.stores.AppendExecutionLog(bctx, log); err != nil {
			e.logger.Error("failed to append execution log",
				"tenant", cfg.TenantID, "tool", cfg.Name, "error", err)
		}
	}

	status := "ok"
	if !ok {
		status = "error"
	}
	e.metrics.RecordToolCall(ctx, cfg.Name, "custom", status, elapsed.Seconds())
	e.bus.Emit(events.SourceCustomTool, events.KindExecuted, cfg.TenantID, map[string]any{
		"tool_id":     cfg.ID,
		"tool":        cfg.Name,
		"status_code": log.StatusCode,
		"ok":          ok,
		"duration_ms": log.ExecutionTimeMs,
	})

	e.logger.Info("custom tool executed",
		"tenant", cfg.TenantID,
		"tool", cfg.Name,
		"status", log.StatusCode,
		"ok", ok,
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

func describeFailure(cfg *store.CustomTool, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Error: %s %v", cfg.Name, err)
	}
	return fmt.Sprintf("Error: %s request failed: %v", cfg.Name, err)
}

func renderBody(body []byte, status int, mapping *store.ResponseMapping) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fmt.Sprintf("Request succeeded (HTTP %d) with an empty response.", status)
	}
	var data any
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return string(trimmed)
	}
	var m *template.ResponseMapping
	if mapping != nil {
		m = &template.ResponseMapping{Format: mapping.Format, Template: mapping.Template}
	}
	return template.RenderResponse(data, m)
}

func encodeArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
