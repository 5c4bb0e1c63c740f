package prompts

import (
	"fmt"
	"strings"
	"time"
)

// baseSystemTemplate is the default persona used when a tenant has not
// configured its own system prompt.
const baseSystemTemplate = `You are a helpful assistant for an online community that chats in a Telegram group.

## When to Use Tools
Use tools when the user asks you to FIND, CHECK or REMEMBER something:
- "What did we decide about the meetup?" → search_chat_history
- "Who here knows Rust?" → search_profiles
- "Remember that the venue moved to Hall B" → save_to_knowledge_base

Do NOT use tools for greetings, thanks or small talk. Answer those directly.

## Rules
- Prefer the community knowledge base over your own assumptions about the community.
- Never invent members, messages or links. If a tool finds nothing, say so.
- Keep answers short; this is a group chat.
- Quote URLs exactly as tools returned them.`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// SystemPrompt assembles the system message for one run: the tenant's
// prompt (or the default) followed by a short context block with the
// community name, the current time and the tools on offer.
func SystemPrompt(custom, communityName string, now time.Time, toolNames []string) string {
	var sb strings.Builder
	if strings.TrimSpace(custom) != "" {
		sb.WriteString(strings.TrimSpace(custom))
	} else {
		sb.WriteString(baseSystemTemplate)
	}

	sb.WriteString("\n\n## Context\n")
	if communityName != "" {
		fmt.Fprintf(&sb, "Community: %s\n", communityName)
	}
	fmt.Fprintf(&sb, "Current time: %s\n", now.UTC().Format("Monday, 2 January 2006 15:04 UTC"))
	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, "Tools available: %s\n", strings.Join(toolNames, ", "))
	} else {
		sb.WriteString("No tools are available; answer from the conversation alone.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
