// Package runner assembles a tenant's invocation (settings, tool
// registry, chat history) and hands it to the agent loop. It is shared
// by the HTTP API and the ask command.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackmielke/agentdash/internal/agent"
	"github.com/jackmielke/agentdash/internal/llm"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

// AssistantSender is the Sender recorded on chat messages the bot
// wrote itself.
const AssistantSender = "assistant"

// ErrUnknownTenant is returned when the tenant ID matches no tenant.
var ErrUnknownTenant = errors.New("unknown tenant")

// Stores is the storage surface a Runner reads.
type Stores interface {
	store.TenantStore
	store.CustomToolStore
	store.ChatStore
}

// Config holds the server-wide fallbacks for tenant settings.
type Config struct {
	// DefaultModel is used when a tenant has no model set.
	DefaultModel string
	// SystemPrompt replaces the built-in prompt for tenants without one.
	SystemPrompt string
	// MaxIterations bounds completion calls per run.
	MaxIterations int
	// HistoryLimit caps the chat messages loaded as context.
	HistoryLimit int
	// HistoryWindow ignores chat messages older than this. Zero means
	// no age limit.
	HistoryWindow time.Duration
	// ProviderFor names the provider serving a model, for usage
	// records. Nil labels every model "openai".
	ProviderFor func(model string) string
}

// Runner runs agent invocations for tenants.
type Runner struct {
	stores   Stores
	builtins []*tools.Tool
	exec     tools.CustomExecutor
	deps     agent.Deps
	cfg      Config
	logger   *slog.Logger
}

// New creates a Runner. builtins are the compiled-in capabilities and
// exec calls tenant-defined endpoints.
func New(stores Stores, builtins []*tools.Tool, exec tools.CustomExecutor, deps agent.Deps, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Runner{
		stores:   stores,
		builtins: builtins,
		exec:     exec,
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
	}
}

// Tenant loads a tenant, mapping a missing record to ErrUnknownTenant.
func (r *Runner) Tenant(ctx context.Context, id string) (*store.Tenant, error) {
	t, err := r.stores.GetTenant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	return t, nil
}

// Registry builds the tool registry a run for tenant would see. Custom
// tools are reloaded on every call so dashboard edits apply to the next
// message.
func (r *Runner) Registry(ctx context.Context, tenant *store.Tenant) (*tools.Registry, error) {
	custom, err := r.stores.ListCustomTools(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("list custom tools: %w", err)
	}
	return tools.Build(tenant.EnabledTools, custom, r.builtins, r.exec, r.logger), nil
}

// Invocation assembles the invocation settings for tenant.
func (r *Runner) Invocation(ctx context.Context, tenant *store.Tenant) (agent.InvocationConfig, error) {
	reg, err := r.Registry(ctx, tenant)
	if err != nil {
		return agent.InvocationConfig{}, err
	}
	model := tenant.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	prompt := tenant.SystemPrompt
	if prompt == "" {
		prompt = r.cfg.SystemPrompt
	}
	provider := "openai"
	if r.cfg.ProviderFor != nil {
		provider = r.cfg.ProviderFor(model)
	}
	return agent.InvocationConfig{
		TenantID:      tenant.ID,
		CommunityName: tenant.Name,
		Model:         model,
		SystemPrompt:  prompt,
		Tools:         reg,
		MaxIterations: r.cfg.MaxIterations,
		BotToken:      tenant.BotToken,
		Provider:      provider,
	}, nil
}

// Run answers req on behalf of tenant.
func (r *Runner) Run(ctx context.Context, tenant *store.Tenant, req *agent.Request) (*agent.Response, error) {
	cfg, err := r.Invocation(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return agent.New(cfg, r.deps).Run(ctx, req)
}

// History loads the recent messages of chatID as conversation turns,
// oldest first. Messages from other chats of the tenant are skipped.
func (r *Runner) History(ctx context.Context, tenantID, chatID string) ([]agent.Turn, error) {
	if r.cfg.HistoryLimit <= 0 {
		return nil, nil
	}
	var since time.Time
	if r.cfg.HistoryWindow > 0 {
		since = time.Now().Add(-r.cfg.HistoryWindow)
	}
	// Over-fetch: other chats of the same tenant share the table.
	msgs, err := r.stores.ListChatMessages(ctx, tenantID, since, r.cfg.HistoryLimit*4)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return HistoryFromChat(msgs, chatID, r.cfg.HistoryLimit), nil
}

// HistoryFromChat converts stored messages (newest first) of chatID to
// turns, oldest first. Messages written by the bot become assistant
// turns; everyone else's are user turns prefixed with the sender.
func HistoryFromChat(msgs []*store.ChatMessage, chatID string, limit int) []agent.Turn {
	lines := make([]agent.HistoryLine, 0, len(msgs))
	for _, m := range slices.Backward(msgs) {
		if m == nil || m.Text == "" || (chatID != "" && m.ChatID != chatID) {
			continue
		}
		if m.Sender == AssistantSender {
			lines = append(lines, agent.HistoryLine{Role: llm.RoleAssistant, Content: m.Text})
			continue
		}
		content := m.Text
		if m.Sender != "" {
			content = m.Sender + ": " + m.Text
		}
		lines = append(lines, agent.HistoryLine{Role: llm.RoleUser, Content: content})
	}
	return agent.HistoryTurns(lines, limit)
}
