package prompts

import "fmt"

// progressLabels are the notes posted to the chat while a built-in tool
// runs.
var progressLabels = map[string]string{
	"web_search":             "🔎 Searching the web...",
	"read_knowledge_base":    "📚 Checking the knowledge base...",
	"save_to_knowledge_base": "📝 Saving to the knowledge base...",
	"search_chat_history":    "💬 Looking through chat history...",
	"lookup_member":          "👤 Looking up members...",
	"search_profiles":        "🧭 Searching member profiles...",
	"fetch_webpage":          "🌐 Reading the webpage...",
	"score_image":            "🖼️ Scoring the image...",
	"issue_claim_link":       "🔗 Preparing your claim link...",
}

// ProgressNote returns the chat note announcing a tool call. label is
// the human name of a custom tool and is ignored for built-ins.
func ProgressNote(toolName, label string) string {
	if note, ok := progressLabels[toolName]; ok {
		return note
	}
	if label == "" {
		label = toolName
	}
	return fmt.Sprintf("⚙️ Running %s...", label)
}
