// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the agent loop, the custom tool
// executor and the Telegram webhook to subscribers such as the
// /v1/events WebSocket stream. The bus is nil-safe: calling Publish on
// a nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the agent loop.
	SourceAgent = "agent"
	// SourceCustomTool identifies events from the custom tool executor.
	SourceCustomTool = "custom_tool"
	// SourceTelegram identifies events from the Telegram webhook.
	SourceTelegram = "telegram"
	// SourceConnwatch identifies upstream reachability changes.
	SourceConnwatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of an agent run.
	// Data: request_id, chat_id, tools.
	KindRequestStart = "request_start"
	// KindLLMCall signals the start of a completion call.
	// Data: request_id, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a completion call.
	// Data: request_id, iter, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of an agent run.
	// Data: request_id, model, iterations, finish_reason,
	// total_tokens_in, total_tokens_out, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindExecuted signals a finished custom tool HTTP call.
	// Data: tool_id, tool, status_code, ok, duration_ms.
	KindExecuted = "executed"

	// KindUpdateReceived signals an incoming Telegram update.
	// Data: chat_id, from_id, has_image.
	KindUpdateReceived = "update_received"

	// KindServiceUp signals an upstream becoming reachable.
	// Data: service, attempts.
	KindServiceUp = "service_up"
	// KindServiceDown signals an upstream becoming unreachable.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// TenantID scopes the event; subscribers may filter on it.
	TenantID string `json:"tenant_id,omitempty"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers. A subscription may be scoped to one tenant, in
// which case it sees that tenant's events plus platform-wide events
// (those with an empty TenantID, such as upstream outages).
type Bus struct {
	mu sync.RWMutex
	// subs maps each send channel to its tenant filter ("" = all).
	subs map[chan Event]string
	// recvToSend maps the receive-only channel handed to the caller
	// back to the send channel stored in subs.
	recvToSend map[<-chan Event]chan Event
	dropped    atomic.Uint64
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]string),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to every matching subscriber. If a
// subscriber's channel is full the event is dropped for that subscriber
// and counted. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, tenant := range b.subs {
		if tenant != "" && e.TenantID != "" && e.TenantID != tenant {
			continue
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind, tenantID string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		TenantID:  tenantID,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel that receives every published event. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	return b.SubscribeTenant(bufSize, "")
}

// SubscribeTenant is Subscribe limited to one tenant's events and
// platform-wide events. An empty tenantID subscribes to everything.
func (b *Bus) SubscribeTenant(bufSize int, tenantID string) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = tenantID
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
