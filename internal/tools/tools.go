// Package tools assembles the per-invocation tool registry: the
// compiled-in capabilities a tenant has enabled plus the tenant's own
// HTTP tools, behind a single Invoke entry point.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/jackmielke/agentdash/internal/store"
)

// Handler executes a tool with arguments decoded from the model's
// tool call.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a compiled-in capability.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Spec describes one callable tool as advertised to the model.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Custom      bool
	// Config is the stored definition of a custom tool; nil for built-ins.
	Config *store.CustomTool
}

// CustomExecutor performs tenant-defined HTTP tool calls. Call never
// fails; transport and upstream errors come back as result text.
type CustomExecutor interface {
	Call(ctx context.Context, cfg *store.CustomTool, args map[string]any) string
}

// Invoker dispatches a call to one tool. The two implementations are
// builtIn, wrapping a compiled-in handler, and custom, wrapping a stored
// HTTP tool definition and the executor that runs it.
type Invoker interface {
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

type builtIn struct {
	handler Handler
}

func (b builtIn) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return b.handler(ctx, args)
}

type custom struct {
	config   *store.CustomTool
	executor CustomExecutor
}

func (c custom) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if c.executor == nil {
		return "", fmt.Errorf("no executor configured for custom tools")
	}
	return c.executor.Call(ctx, c.config, args), nil
}

// toolNameRE matches names completion APIs accept for function tools.
var toolNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type entry struct {
	spec    Spec
	invoker Invoker
}

// Registry is the immutable tool set of one invocation.
type Registry struct {
	entries map[string]entry
	names   []string
}

// Build assembles the registry for one invocation.
//
// A built-in is included only when enabled[name] is true. Every enabled
// custom tool becomes a spec whose parameter schema is derived from its
// stored parameters. A custom tool whose name collides with a
// compiled-in capability is dropped, whether or not that capability is
// enabled, so a tenant endpoint can never shadow a built-in. Among
// custom tools sharing a name the first one wins.
func Build(enabled map[string]bool, customTools []*store.CustomTool, builtins []*Tool, exec CustomExecutor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{entries: make(map[string]entry)}

	reserved := make(map[string]bool, len(builtins))
	for _, t := range builtins {
		reserved[t.Name] = true
		if !enabled[t.Name] {
			continue
		}
		r.entries[t.Name] = entry{
			spec: Spec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
			invoker: builtIn{handler: t.Handler},
		}
	}

	for _, ct := range customTools {
		if ct == nil || !ct.IsEnabled {
			continue
		}
		switch {
		case reserved[ct.Name] || IsBuiltin(ct.Name):
			logger.Warn("custom tool shadows a built-in, dropping",
				"tenant", ct.TenantID, "tool", ct.Name, "id", ct.ID)
			continue
		case !toolNameRE.MatchString(ct.Name):
			logger.Warn("custom tool has an invalid name, dropping",
				"tenant", ct.TenantID, "tool", ct.Name, "id", ct.ID)
			continue
		}
		if _, dup := r.entries[ct.Name]; dup {
			logger.Warn("duplicate custom tool name, keeping first",
				"tenant", ct.TenantID, "tool", ct.Name, "id", ct.ID)
			continue
		}
		r.entries[ct.Name] = entry{
			spec: Spec{
				Name:        ct.Name,
				Description: customDescription(ct),
				Parameters:  ParameterSchema(ct.Parameters),
				Custom:      true,
				Config:      ct,
			},
			invoker: custom{config: ct, executor: exec},
		}
	}

	r.names = make([]string, 0, len(r.entries))
	for name := range r.entries {
		r.names = append(r.names, name)
	}
	slices.Sort(r.names)
	return r
}

func customDescription(ct *store.CustomTool) string {
	if ct.Description != "" {
		return ct.Description
	}
	if ct.DisplayName != "" {
		return ct.DisplayName
	}
	return ct.Name
}

// ParameterSchema converts stored custom tool parameters into a JSON
// Schema object. Parameters are optional unless marked required.
func ParameterSchema(params map[string]store.Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	required := []string{}
	for name, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	slices.Sort(required)
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Invoke dispatches a call by name. Unknown names return
// *ErrToolUnavailable without touching any handler. Handler failures are
// wrapped in *ToolError; use FormatError to turn either into result text.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := r.entries[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name, Available: r.Names()}
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := e.invoker.Invoke(ctx, args)
	if err != nil {
		return "", &ToolError{Tool: name, Err: err}
	}
	return out, nil
}

// Has reports whether name is callable in this invocation.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Spec returns the spec for name.
func (r *Registry) Spec(name string) (Spec, bool) {
	e, ok := r.entries[name]
	return e.spec, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Definitions returns the tools in the function-tool shape completion
// APIs expect, sorted by name.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.names))
	for _, name := range r.names {
		s := r.entries[name].spec
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	return defs
}
