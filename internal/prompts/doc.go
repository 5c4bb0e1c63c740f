// Package prompts contains the text AgentDash sends to models and to
// chat users on the agent's behalf.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Tenant-specific instructions live in the tenant record; this
// package holds the defaults and the fixed messages of the agent loop.
//
// Convention: each prompt category gets its own file with an exported
// function (or constant) that returns the fully interpolated text.
package prompts
