package community

// ChatHistoryDefinition returns the JSON Schema parameters for search_chat_history.
func ChatHistoryDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days_back": map[string]any{
				"type":        "integer",
				"description": "How many days of history to read (1-30). Default: 7.",
			},
		},
	}
}

// LookupMemberDefinition returns the JSON Schema parameters for lookup_member.
func LookupMemberDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Username (with or without @) or part of a member's name.",
			},
		},
		"required": []string{"query"},
	}
}

// SearchProfilesDefinition returns the JSON Schema parameters for search_profiles.
func SearchProfilesDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural language description of the skills, interests or background to look for.",
			},
		},
		"required": []string{"query"},
	}
}
