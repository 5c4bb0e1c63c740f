// Package search provides web search for the agent.
//
// Each search backend implements [Provider]. The [Manager] holds the
// configured providers in priority order and falls through to the next
// one whenever a provider fails or returns nothing.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "brave", "duckduckgo").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers in the order they are tried.
type Manager struct {
	providers []Provider
	logger    *slog.Logger
}

// NewManager creates an empty search manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Register appends a provider to the fallback chain.
func (m *Manager) Register(p Provider) {
	m.providers = append(m.providers, p)
}

// Search tries each provider in registration order and returns the
// first non-empty result set. A provider error or empty result moves on
// to the next provider. When every provider comes back empty the
// returned slice is empty and err joins the provider failures, if any.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("no search provider configured")
	}

	var errs []error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, opts)
		if err != nil {
			m.logger.Warn("search provider failed, trying next",
				"provider", p.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		if len(results) == 0 {
			m.logger.Debug("search provider returned no results",
				"provider", p.Name(), "query", query)
			continue
		}
		return results, nil
	}
	return nil, errors.Join(errs...)
}

// SearchWith runs a query against one named provider only.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	for _, p := range m.providers {
		if p.Name() == provider {
			return p.Search(ctx, query, opts)
		}
	}
	return nil, fmt.Errorf("search provider %q not configured", provider)
}

// Providers returns the names of all registered providers in order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults builds a human-readable result string.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var buf []byte
	for i, r := range results {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, strconv.Itoa(i+1)...)
		buf = append(buf, ". "...)
		buf = append(buf, r.Title...)
		buf = append(buf, '\n')
		buf = append(buf, "   "...)
		buf = append(buf, r.URL...)
		if r.Snippet != "" {
			buf = append(buf, '\n')
			buf = append(buf, "   "...)
			buf = append(buf, r.Snippet...)
		}
	}
	return string(buf)
}
