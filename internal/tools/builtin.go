package tools

import "slices"

// Names of the compiled-in capabilities. A tenant's custom tool may not
// reuse any of these, whether or not the tenant has the built-in enabled.
const (
	WebSearch           = "web_search"
	ReadKnowledgeBase   = "read_knowledge_base"
	SaveToKnowledgeBase = "save_to_knowledge_base"
	SearchChatHistory   = "search_chat_history"
	LookupMember        = "lookup_member"
	SearchProfiles      = "search_profiles"
	FetchWebpage        = "fetch_webpage"
	ScoreImage          = "score_image"
	IssueClaimLink      = "issue_claim_link"
)

// BuiltinNames lists every compiled-in capability name.
var BuiltinNames = []string{
	WebSearch,
	ReadKnowledgeBase,
	SaveToKnowledgeBase,
	SearchChatHistory,
	LookupMember,
	SearchProfiles,
	FetchWebpage,
	ScoreImage,
	IssueClaimLink,
}

// IsBuiltin reports whether name is reserved by a compiled-in capability.
func IsBuiltin(name string) bool {
	return slices.Contains(BuiltinNames, name)
}
