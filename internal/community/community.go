// Package community implements the tools that read a tenant's group
// chat history and member profiles.
package community

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackmielke/agentdash/internal/embeddings"
	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

// Limits applied by the community tools.
const (
	DefaultDaysBack   = 7
	MinDaysBack       = 1
	MaxDaysBack       = 30
	MaxMessages       = 30
	MaxMessageChars   = 500
	MaxLookupResults  = 10
	MaxProfileResults = 5
)

// Tools provides search_chat_history, lookup_member and search_profiles.
type Tools struct {
	chats    store.ChatStore
	members  store.MemberStore
	embedder embeddings.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewTools creates community tools. embedder may be nil, in which case
// search_profiles reports that semantic search is unavailable.
func NewTools(chats store.ChatStore, members store.MemberStore, embedder embeddings.Provider, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{
		chats:    chats,
		members:  members,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}
}

func tenantFrom(ctx context.Context) (string, error) {
	tenantID := tools.InvocationFromContext(ctx).TenantID
	if tenantID == "" {
		return "", fmt.Errorf("no tenant in scope")
	}
	return tenantID, nil
}

// ClampDaysBack reads the days_back argument. A missing or unparseable
// value yields [DefaultDaysBack]; anything else is clamped into
// [MinDaysBack, MaxDaysBack].
func ClampDaysBack(v any) int {
	var days float64
	switch tv := v.(type) {
	case float64:
		days = tv
	case int:
		days = float64(tv)
	case int64:
		days = float64(tv)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return DefaultDaysBack
		}
		days = n
	default:
		return DefaultDaysBack
	}
	// Clamp before converting; out-of-range float to int is undefined.
	switch {
	case math.IsNaN(days):
		return DefaultDaysBack
	case days >= MaxDaysBack:
		return MaxDaysBack
	case days < MinDaysBack:
		return MinDaysBack
	}
	return int(days)
}

// ChatHistory returns up to [MaxMessages] of the most recent messages in
// the requested window, oldest first, each cut to [MaxMessageChars].
func (t *Tools) ChatHistory(ctx context.Context, args map[string]any) (string, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return "", err
	}

	days := ClampDaysBack(args["days_back"])
	since := t.now().Add(-time.Duration(days) * 24 * time.Hour)

	msgs, err := t.chats.ListChatMessages(ctx, tenantID, since, MaxMessages)
	if err != nil {
		return "", fmt.Errorf("list chat messages: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No chat messages in the last %d days.", days), nil
	}

	slices.Reverse(msgs)

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d messages from the past %d days:\n", len(msgs), days)
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			m.CreatedAt.Format("2006-01-02 15:04"), m.Sender, truncate(m.Text, MaxMessageChars))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// LookupMember finds members by username or display name substring.
func (t *Tools) LookupMember(ctx context.Context, args map[string]any) (string, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return "", err
	}
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	members, err := t.members.FindMembers(ctx, tenantID, query, MaxLookupResults)
	if err != nil {
		return "", fmt.Errorf("find members: %w", err)
	}
	if len(members) == 0 {
		return fmt.Sprintf("No members found matching %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d member(s):\n", len(members))
	for _, m := range members {
		b.WriteString(formatMember(m))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// SearchProfiles embeds the query and returns the closest member
// profiles. Embedding failures are returned as errors; there is no
// keyword fallback.
func (t *Tools) SearchProfiles(ctx context.Context, args map[string]any) (string, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return "", err
	}
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if t.embedder == nil {
		return "", fmt.Errorf("semantic profile search is unavailable: no embedding service configured")
	}

	vec, err := t.embedder.Generate(ctx, query)
	if err != nil {
		t.logger.Warn("profile search embedding failed", "tenant", tenantID, "error", err)
		return "", fmt.Errorf("could not embed the search query, embedding service failed: %w", err)
	}

	matches, err := t.members.SearchMembers(ctx, tenantID, vec, MaxProfileResults)
	if err != nil {
		return "", fmt.Errorf("search members: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No member profiles match %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d matching profile(s):\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "%s [match %.0f%%]\n", formatMember(&m.Member), m.Similarity*100)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func formatMember(m *store.Member) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(m.DisplayName)
	if m.Username != "" {
		fmt.Fprintf(&b, " (@%s)", m.Username)
	}
	if m.Bio != "" {
		b.WriteString(": ")
		b.WriteString(truncate(m.Bio, 200))
	}
	if len(m.Interests) > 0 {
		fmt.Fprintf(&b, " [interests: %s]", strings.Join(m.Interests, ", "))
	}
	if m.ClaimedAt.IsZero() {
		b.WriteString(" (unclaimed)")
	}
	return b.String()
}

// truncate cuts s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
