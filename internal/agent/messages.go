package agent

import "github.com/jackmielke/agentdash/internal/llm"

// toLLMMessages converts conversation turns to completion messages.
func toLLMMessages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{
			Role:       t.Role,
			Content:    t.Content,
			ImageURL:   t.ImageURL,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		}
	}
	return msgs
}

// HistoryTurns converts stored chat lines into user/assistant turns,
// keeping at most limit of the newest. Each entry of lines is a
// role/content pair; roles other than user and assistant are skipped.
func HistoryTurns(lines []HistoryLine, limit int) []Turn {
	turns := make([]Turn, 0, len(lines))
	for _, ln := range lines {
		switch ln.Role {
		case llm.RoleUser, llm.RoleAssistant:
			if ln.Content == "" {
				continue
			}
			turns = append(turns, Turn{Role: ln.Role, Content: ln.Content})
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

// HistoryLine is a prior message supplied by the caller.
type HistoryLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
