package search

import (
	"context"
	"fmt"
	"log/slog"
)

// ToolHandler returns the web_search tool handler. Provider failures are
// logged and reported to the model as "No results found." so that a
// flaky search backend never aborts an agent run.
func ToolHandler(mgr *Manager, logger *slog.Logger) func(ctx context.Context, args map[string]any) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = min(int(count), 10)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		var results []Result
		var err error
		if provider, ok := args["provider"].(string); ok && provider != "" {
			results, err = mgr.SearchWith(ctx, provider, query, opts)
		} else {
			results, err = mgr.Search(ctx, query, opts)
		}
		if err != nil {
			logger.Warn("web search failed", "query", query, "error", err)
		}
		return FormatResults(results), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10). Default: 5.",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Search provider to use. Omit to try all configured providers in order.",
			},
		},
		"required": []string{"query"},
	}
}
