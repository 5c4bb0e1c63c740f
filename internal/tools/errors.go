package tools

import (
	"errors"
	"fmt"
	"strings"
)

// maxErrorSummary bounds the error text fed back to the model.
const maxErrorSummary = 300

// ErrToolUnavailable is returned when a tool call targets a name that is
// not present in the invocation's registry. The call is never
// dispatched; its Error text is what the model sees as the tool result.
type ErrToolUnavailable struct {
	ToolName  string
	Available []string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("Tool %q is not available. No tools are available in this conversation.", e.ToolName)
	}
	return fmt.Sprintf("Tool %q is not available. Available tools are: %s",
		e.ToolName, strings.Join(e.Available, ", "))
}

// ToolError wraps a failure returned by a tool handler.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// FormatError renders an Invoke error as tool result text. Unavailable
// tools keep their full message; handler failures are reduced to the
// first line of the cause, capped at a few hundred characters, so raw
// upstream dumps never reach the conversation.
func FormatError(err error) string {
	var unavailable *ErrToolUnavailable
	if errors.As(err, &unavailable) {
		return unavailable.Error()
	}

	var te *ToolError
	if errors.As(err, &te) {
		return fmt.Sprintf("Error: %s failed: %s", te.Tool, summarize(te.Err))
	}
	return "Error: " + summarize(err)
}

func summarize(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if r := []rune(msg); len(r) > maxErrorSummary {
		msg = string(r[:maxErrorSummary]) + "..."
	}
	if msg == "" {
		return "unknown error"
	}
	return msg
}
