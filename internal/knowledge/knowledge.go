// Package knowledge implements the tenant knowledge-base tools: reading
// the most recent entries and saving new ones.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

// MaxEntries is the number of most recent entries returned by a read.
const MaxEntries = 200

// NoEntriesMessage is returned when the tenant has no entries.
const NoEntriesMessage = "No knowledge base entries found."

// Tools provides the read_knowledge_base and save_to_knowledge_base
// handlers.
type Tools struct {
	store  store.KnowledgeStore
	logger *slog.Logger
}

// NewTools creates knowledge tools backed by s.
func NewTools(s store.KnowledgeStore, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{store: s, logger: logger}
}

// Read lists up to [MaxEntries] entries, newest first, one per line.
func (t *Tools) Read(ctx context.Context, _ map[string]any) (string, error) {
	tenantID := tools.InvocationFromContext(ctx).TenantID
	if tenantID == "" {
		return "", fmt.Errorf("no tenant in scope")
	}

	entries, err := t.store.ListKnowledge(ctx, tenantID, MaxEntries)
	if err != nil {
		return "", fmt.Errorf("list knowledge: %w", err)
	}
	if len(entries) == 0 {
		return NoEntriesMessage, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge base (%d entries, newest first):\n", len(entries))
	for _, e := range entries {
		b.WriteString(FormatEntry(e))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FormatEntry renders one entry as "- [2006-01-02] content (tags: a, b)".
func FormatEntry(e *store.KnowledgeEntry) string {
	line := fmt.Sprintf("- [%s] %s", e.CreatedAt.Format("2006-01-02"), strings.TrimSpace(e.Content))
	if len(e.Tags) > 0 {
		line += fmt.Sprintf(" (tags: %s)", strings.Join(e.Tags, ", "))
	}
	return line
}

// Save appends one entry with the supplied content and optional tags.
func (t *Tools) Save(ctx context.Context, args map[string]any) (string, error) {
	tenantID := tools.InvocationFromContext(ctx).TenantID
	if tenantID == "" {
		return "", fmt.Errorf("no tenant in scope")
	}

	content, _ := args["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}

	entry := &store.KnowledgeEntry{
		TenantID: tenantID,
		Content:  content,
		Tags:     parseTags(args["tags"]),
		Source:   "agent",
	}
	if err := t.store.AddKnowledge(ctx, entry); err != nil {
		return "", fmt.Errorf("save knowledge: %w", err)
	}

	t.logger.Info("knowledge entry saved",
		"tenant", tenantID, "id", entry.ID, "tags", entry.Tags)

	if len(entry.Tags) > 0 {
		return fmt.Sprintf("Saved to knowledge base with tags: %s.", strings.Join(entry.Tags, ", ")), nil
	}
	return "Saved to knowledge base.", nil
}

// parseTags accepts a JSON array of strings or a comma-separated string.
func parseTags(v any) []string {
	var raw []string
	switch tv := v.(type) {
	case []any:
		for _, item := range tv {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = tv
	case string:
		raw = strings.Split(tv, ",")
	}

	var tags []string
	seen := make(map[string]bool)
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// ReadDefinition returns the JSON Schema parameters for read_knowledge_base.
func ReadDefinition() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// SaveDefinition returns the JSON Schema parameters for save_to_knowledge_base.
func SaveDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact or note to remember for this community.",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional short topic tags.",
			},
		},
		"required": []string{"content"},
	}
}
