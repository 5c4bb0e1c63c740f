package fetch

import (
	"context"
	"fmt"
	"strings"
)

// ToolHandler returns the fetch_webpage tool handler. The URL scheme is
// checked before any network call is made.
func ToolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		rawURL, _ := args["url"].(string)
		rawURL = strings.TrimSpace(rawURL)
		if _, err := ValidateURL(rawURL); err != nil {
			return fmt.Sprintf("Cannot fetch %q: %v.", rawURL, err), nil
		}

		result, err := f.Fetch(ctx, rawURL, 0)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		if result.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", result.Title)
		}
		fmt.Fprintf(&b, "URL: %s\n\n", result.URL)
		if result.Content == "" {
			b.WriteString("(no readable text content)")
		} else {
			b.WriteString(result.Content)
		}
		return b.String(), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the fetch_webpage tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http:// or https:// URL to fetch and extract readable text from.",
			},
		},
		"required": []string{"url"},
	}
}
