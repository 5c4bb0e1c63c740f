// Package api implements the AgentDash HTTP API: tenant chat, the
// Telegram webhook, custom tool testing, usage reporting, stored blobs
// and the operational event stream.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackmielke/agentdash/internal/buildinfo"
	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/connwatch"
	"github.com/jackmielke/agentdash/internal/customtool"
	"github.com/jackmielke/agentdash/internal/events"
	"github.com/jackmielke/agentdash/internal/notify"
	"github.com/jackmielke/agentdash/internal/observe"
	"github.com/jackmielke/agentdash/internal/runner"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Stores is the storage surface the API reads and writes directly.
type Stores interface {
	store.CustomToolStore
	store.ExecutionLogStore
	store.ChatStore
	store.BlobStore
}

// UsageReporter summarizes recorded token usage.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByTenant(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// Telegram sends replies and resolves photo URLs for the webhook.
type Telegram interface {
	notify.Notifier
	FileURL(ctx context.Context, botToken, fileID string) (string, error)
}

// HealthReporter lists the reachability of upstream services.
type HealthReporter interface {
	Services() []connwatch.ServiceStatus
}

// Deps holds the collaborators of the server. Runner and Stores are
// required; the rest may be nil, which disables the routes that need
// them.
type Deps struct {
	Runner   *runner.Runner
	Stores   Stores
	Executor *customtool.Executor
	Telegram Telegram
	Usage    UsageReporter
	Bus      *events.Bus
	Metrics  *observe.Metrics
	// MetricsHandler serves /metrics, normally observe.Telemetry.MetricsHandler.
	MetricsHandler http.Handler
	Health         HealthReporter
	Pricing        map[string]config.PricingEntry
}

// Options holds server settings taken from config.
type Options struct {
	Address string
	Port    int
	// APIKey, when set, is required as a Bearer token on /v1/tenants routes.
	APIKey string
	// WebhookSecret, when set, must match the Telegram secret header.
	WebhookSecret string
	// WebhookTimeout bounds one webhook-triggered run (default 2m).
	WebhookTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
	server *http.Server
	stats  *SessionStats

	// background tracks webhook runs still in flight.
	background sync.WaitGroup
}

// SessionStats tracks request counts, token usage and estimated cost
// since the process started.
type SessionStats struct {
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalRequests     int64   `json:"total_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	mu                sync.Mutex
}

// Record adds one finished run.
func (s *SessionStats) Record(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInputTokens += int64(inputTokens)
	s.TotalOutputTokens += int64(outputTokens)
	s.TotalRequests++
	s.EstimatedCostUSD += usage.ComputeCost(model, inputTokens, outputTokens, pricing)
}

// RecordFailure counts a run that ended with an error.
func (s *SessionStats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.FailedRequests++
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	TotalInputTokens  int64             `json:"total_input_tokens"`
	TotalOutputTokens int64             `json:"total_output_tokens"`
	TotalRequests     int64             `json:"total_requests"`
	FailedRequests    int64             `json:"failed_requests"`
	EstimatedCostUSD  float64           `json:"estimated_cost_usd"`
	EventSubscribers  int               `json:"event_subscribers"`
	EventsDropped     uint64            `json:"events_dropped"`
	Build             map[string]string `json:"build,omitempty"`
}

// Snapshot copies the current counters.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		TotalRequests:     s.TotalRequests,
		FailedRequests:    s.FailedRequests,
		EstimatedCostUSD:  s.EstimatedCostUSD,
	}
}

// NewServer creates a new API server.
func NewServer(opts Options, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 2 * time.Minute
	}
	return &Server{
		opts:   opts,
		deps:   deps,
		logger: logger,
		stats:  &SessionStats{},
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Tenant endpoints
	mux.Handle("POST /v1/tenants/{tenant}/chat", s.requireKey(s.handleChat))
	mux.Handle("GET /v1/tenants/{tenant}/tools", s.requireKey(s.handleTools))
	mux.Handle("POST /v1/tenants/{tenant}/tools/{id}/test", s.requireKey(s.handleToolTest))
	mux.Handle("GET /v1/tenants/{tenant}/tools/{id}/logs", s.requireKey(s.handleToolLogs))
	mux.Handle("GET /v1/tenants/{tenant}/usage", s.requireKey(s.handleTenantUsage))

	// Telegram
	mux.HandleFunc("POST /v1/telegram/{tenant}/webhook", s.handleWebhook)

	// Operational endpoints
	mux.Handle("GET /v1/usage", s.requireKey(s.handleUsage))
	mux.Handle("GET /v1/stats", s.requireKey(s.handleStats))
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/blobs/{key}", s.handleBlob)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}

	return observe.Middleware(s.deps.Metrics, s.logger)(s.withLogging(mux))
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.opts.Address, s.opts.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Chat runs include several completion calls.
		WriteTimeout: 180 * time.Second,
	}

	addr := s.opts.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.opts.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and waits for webhook runs still
// in flight, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("webhook runs still in flight at shutdown")
	}
	return err
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// validKey reports whether candidate matches the configured API key.
func (s *Server) validKey(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.opts.APIKey)) == 1
}

// requireKey enforces the Bearer API key when one is configured.
func (s *Server) requireKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !s.validKey(token) {
				s.errorResponse(w, http.StatusUnauthorized, "missing or invalid API key")
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "AgentDash",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// healthResponse reports "degraded" when any watched upstream is down.
// The endpoint still answers 200 so the process is not restarted for
// an outage it cannot fix.
type healthResponse struct {
	Status   string                    `json:"status"`
	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.deps.Health != nil {
		resp.Services = s.deps.Health.Services()
		for _, svc := range resp.Services {
			if !svc.Ready {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	snap.EventSubscribers = s.deps.Bus.SubscriberCount()
	snap.EventsDropped = s.deps.Bus.Dropped()
	snap.Build = buildinfo.RuntimeInfo()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
