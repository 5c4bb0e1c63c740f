package tools

import "context"

type contextKey string

const invocationKey contextKey = "invocation"

// Invocation identifies who a tool call is running for. Handlers read
// it from the context instead of trusting model-supplied arguments for
// tenant, chat or requester identity.
type Invocation struct {
	TenantID       string
	ChatID         string
	TelegramUserID int64
	// ImageURL is the image attached to the current user message, if any.
	ImageURL string
}

// WithInvocation adds the invocation scope to the context.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey, inv)
}

// InvocationFromContext extracts the invocation scope. The zero value is
// returned when none was set.
func InvocationFromContext(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey).(Invocation)
	return inv
}
