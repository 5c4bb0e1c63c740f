package prompts

// MaxIterationsMessage is the final answer of a run that used up its
// completion budget without the model producing an answer.
const MaxIterationsMessage = "I'm sorry, I wasn't able to finish working on that. Please try asking again, perhaps more specifically."

// EmptyResponseFallback is returned when the model ends a run with no
// text at all.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."
