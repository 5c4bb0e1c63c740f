package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackmielke/agentdash/internal/agent"
	"github.com/jackmielke/agentdash/internal/runner"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
	"github.com/jackmielke/agentdash/internal/usage"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// ChatRequest is the body of POST /v1/tenants/{tenant}/chat.
type ChatRequest struct {
	Message        string              `json:"message"`
	ImageURL       string              `json:"image_url,omitempty"`
	ChatID         string              `json:"chat_id,omitempty"`
	ReplyTo        int64               `json:"reply_to,omitempty"`
	TelegramUserID int64               `json:"telegram_user_id,omitempty"`
	History        []agent.HistoryLine `json:"history,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" && req.ImageURL == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	tenant, ok := s.loadTenant(w, r)
	if !ok {
		return
	}

	resp, err := s.deps.Runner.Run(r.Context(), tenant, &agent.Request{
		History:        agent.HistoryTurns(req.History, 0),
		Message:        req.Message,
		ImageURL:       req.ImageURL,
		ChatID:         req.ChatID,
		ReplyTo:        req.ReplyTo,
		TelegramUserID: req.TelegramUserID,
	})
	if err != nil {
		s.stats.RecordFailure()
		s.logger.Error("chat run failed", "tenant", tenant.ID, "error", err)
		if errors.Is(err, agent.ErrCompletion) {
			s.errorResponse(w, http.StatusBadGateway, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.stats.Record(resp.Model, resp.InputTokens, resp.OutputTokens, s.deps.Pricing)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// loadTenant resolves the {tenant} path value, writing the error
// response itself when it fails.
func (s *Server) loadTenant(w http.ResponseWriter, r *http.Request) (*store.Tenant, bool) {
	tenant, err := s.deps.Runner.Tenant(r.Context(), r.PathValue("tenant"))
	if errors.Is(err, runner.ErrUnknownTenant) {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.logger.Error("tenant lookup failed", "tenant", r.PathValue("tenant"), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "tenant lookup failed")
		return nil, false
	}
	return tenant, true
}

// ToolInfo describes one tool of a tenant's registry.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Custom      bool           `json:"custom"`
	ID          string         `json:"id,omitempty"`
	ErrorCount  int            `json:"error_count,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// handleTools lists the tools the model would be offered for the
// tenant's next message.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.loadTenant(w, r)
	if !ok {
		return
	}
	reg, err := s.deps.Runner.Registry(r.Context(), tenant)
	if err != nil {
		s.logger.Error("build registry failed", "tenant", tenant.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list tools")
		return
	}

	out := make([]ToolInfo, 0, reg.Len())
	for _, name := range reg.Names() {
		spec, _ := reg.Spec(name)
		info := ToolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
			Custom:      spec.Custom,
		}
		if spec.Config != nil {
			info.ID = spec.Config.ID
			info.ErrorCount = spec.Config.ErrorCount
			info.LastError = spec.Config.LastError
		}
		out = append(out, info)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": out, "builtins": tools.BuiltinNames}, s.logger)
}

// ToolTestRequest is the body of POST .../tools/{id}/test.
type ToolTestRequest struct {
	Args map[string]any `json:"args"`
}

// ToolTestResponse reports one test call of a custom tool.
type ToolTestResponse struct {
	OK              bool   `json:"ok"`
	Result          string `json:"result"`
	StatusCode      int    `json:"status_code,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// handleToolTest runs one executor call with caller-supplied arguments.
// The call updates tool health and the execution log like any other.
func (s *Server) handleToolTest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "custom tool executor not configured")
		return
	}
	var req ToolTestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	tenantID, id := r.PathValue("tenant"), r.PathValue("id")
	cfg, err := s.deps.Stores.GetCustomTool(r.Context(), tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "custom tool not found")
		return
	}
	if err != nil {
		s.logger.Error("custom tool lookup failed", "tenant", tenantID, "id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "custom tool lookup failed")
		return
	}

	res := s.deps.Executor.Execute(r.Context(), cfg, req.Args)
	out := ToolTestResponse{OK: res.OK, Result: res.Text}
	if res.Log != nil {
		out.StatusCode = res.Log.StatusCode
		out.ExecutionTimeMs = res.Log.ExecutionTimeMs
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

func (s *Server) handleToolLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, id := r.PathValue("tenant"), r.PathValue("id")
	// Scope check: the tool must belong to the tenant in the path.
	if _, err := s.deps.Stores.GetCustomTool(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "custom tool not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "custom tool lookup failed")
		return
	}

	logs, err := s.deps.Stores.ListExecutionLogs(r.Context(), id, parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error("list execution logs failed", "id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list execution logs")
		return
	}
	if logs == nil {
		logs = []*store.ExecutionLog{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"logs": logs}, s.logger)
}

// usageWindow reads ?days=N (default 30) as a period ending now.
func usageWindow(r *http.Request) (time.Time, time.Time) {
	end := time.Now()
	days := parseIntParam(r, "days", 30)
	if days == 0 {
		days = 30
	}
	return end.AddDate(0, 0, -days), end
}

// handleUsage reports token usage across the deployment, per tenant and
// per model.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	start, end := usageWindow(r)
	total, err := s.deps.Usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byTenant, err := s.deps.Usage.SummaryByTenant(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start":     start,
		"end":       end,
		"total":     total,
		"by_tenant": byTenant,
		"by_model":  byModel,
	}, s.logger)
}

// handleTenantUsage reports one tenant's total token usage over the
// window.
func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	tenantID := r.PathValue("tenant")
	start, end := usageWindow(r)
	byTenant, err := s.deps.Usage.SummaryByTenant(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "tenant", tenantID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	total := byTenant[tenantID]
	if total == nil {
		total = &usage.Summary{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tenant_id": tenantID,
		"start":     start,
		"end":       end,
		"total":     total,
	}, s.logger)
}
