// Package toolset binds the compiled-in capabilities to their
// dependencies and exposes them as registry tools.
package toolset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackmielke/agentdash/internal/claimlink"
	"github.com/jackmielke/agentdash/internal/community"
	"github.com/jackmielke/agentdash/internal/config"
	"github.com/jackmielke/agentdash/internal/fetch"
	"github.com/jackmielke/agentdash/internal/imagescore"
	"github.com/jackmielke/agentdash/internal/knowledge"
	"github.com/jackmielke/agentdash/internal/search"
	"github.com/jackmielke/agentdash/internal/tools"
)

// Deps holds the capability backends. A nil field leaves the matching
// built-in registered but answering that it is not configured.
type Deps struct {
	Search     *search.Manager
	Fetcher    *fetch.Fetcher
	Knowledge  *knowledge.Tools
	Community  *community.Tools
	ImageScore *imagescore.Client
	Claims     *claimlink.Issuer
	Logger     *slog.Logger
}

// Builtins returns every compiled-in capability in tools.BuiltinNames
// order. The registry later keeps only those a tenant has enabled.
func Builtins(d Deps) []*tools.Tool {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := []*tools.Tool{
		{
			Name:        tools.WebSearch,
			Description: "Search the web for current information. Returns titles, URLs and snippets.",
			Parameters:  search.ToolDefinition(),
			Handler:     guard(d.Search != nil, tools.WebSearch, func() tools.Handler { return search.ToolHandler(d.Search, logger) }),
		},
		{
			Name:        tools.ReadKnowledgeBase,
			Description: "Read the community knowledge base: notes, decisions and facts saved earlier, newest first.",
			Parameters:  knowledge.ReadDefinition(),
			Handler:     guard(d.Knowledge != nil, tools.ReadKnowledgeBase, func() tools.Handler { return d.Knowledge.Read }),
		},
		{
			Name:        tools.SaveToKnowledgeBase,
			Description: "Save a note to the community knowledge base so it can be recalled later.",
			Parameters:  knowledge.SaveDefinition(),
			Handler:     guard(d.Knowledge != nil, tools.SaveToKnowledgeBase, func() tools.Handler { return d.Knowledge.Save }),
		},
		{
			Name:        tools.SearchChatHistory,
			Description: "Read recent messages from the group chat, oldest first.",
			Parameters:  community.ChatHistoryDefinition(),
			Handler:     guard(d.Community != nil, tools.SearchChatHistory, func() tools.Handler { return d.Community.ChatHistory }),
		},
		{
			Name:        tools.LookupMember,
			Description: "Find community members by username or name.",
			Parameters:  community.LookupMemberDefinition(),
			Handler:     guard(d.Community != nil, tools.LookupMember, func() tools.Handler { return d.Community.LookupMember }),
		},
		{
			Name:        tools.SearchProfiles,
			Description: "Find members whose profiles best match a description of skills or interests.",
			Parameters:  community.SearchProfilesDefinition(),
			Handler:     guard(d.Community != nil, tools.SearchProfiles, func() tools.Handler { return d.Community.SearchProfiles }),
		},
		{
			Name:        tools.FetchWebpage,
			Description: "Fetch a web page and return its readable text.",
			Parameters:  fetch.ToolDefinition(),
			Handler:     guard(d.Fetcher != nil, tools.FetchWebpage, func() tools.Handler { return fetch.ToolHandler(d.Fetcher) }),
		},
		{
			Name:        tools.ScoreImage,
			Description: "Score the image attached to the current message, optionally against given criteria.",
			Parameters:  imagescore.ToolDefinition(),
			Handler:     guard(d.ImageScore != nil, tools.ScoreImage, func() tools.Handler { return imagescore.ToolHandler(d.ImageScore) }),
		},
		{
			Name:        tools.IssueClaimLink,
			Description: "Create a one-time link (and QR code) the requesting member can use to claim their community profile.",
			Parameters:  claimlink.ToolDefinition(),
			Handler:     guard(d.Claims != nil, tools.IssueClaimLink, func() tools.Handler { return d.Claims.ToolHandler() }),
		},
	}
	return out
}

// guard returns the handler built by mk when ok, else a handler that
// reports the capability as unconfigured. mk is only called when ok so
// method values on nil backends are never taken.
func guard(ok bool, name string, mk func() tools.Handler) tools.Handler {
	if ok {
		return mk()
	}
	return func(context.Context, map[string]any) (string, error) {
		return "", fmt.Errorf("%s is not configured on this server", name)
	}
}

// NewSearchManager registers the configured search providers in
// primary, fallback order. SearXNG is appended last when it has a URL
// and was not already named. Providers without credentials are skipped.
func NewSearchManager(cfg config.SearchConfig, logger *slog.Logger) *search.Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := search.NewManager(logger)
	added := map[string]bool{}

	add := func(name string) {
		if added[name] {
			return
		}
		switch name {
		case "brave":
			if cfg.Brave.APIKey == "" {
				logger.Info("brave search skipped, no API key")
				return
			}
			mgr.Register(search.NewBrave(cfg.Brave.APIKey, ""))
		case "duckduckgo":
			mgr.Register(search.NewDuckDuckGo(""))
		case "searxng":
			if cfg.SearXNG.URL == "" {
				return
			}
			mgr.Register(search.NewSearXNG(cfg.SearXNG.URL))
		case "":
			return
		default:
			logger.Warn("unknown search provider", "provider", name)
			return
		}
		added[name] = true
	}

	add(cfg.Primary)
	add(cfg.Fallback)
	add("searxng")
	return mgr
}
