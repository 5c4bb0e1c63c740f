package customtool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

// ValidateArgs checks args against the tool's parameter schema. A schema
// that cannot be compiled (for example an unknown parameter type) is
// logged and skipped so a misconfigured tool still reaches its endpoint.
func ValidateArgs(cfg *store.CustomTool, args map[string]any, logger *slog.Logger) error {
	schema, err := compileSchema(cfg)
	if err != nil {
		if logger != nil {
			logger.Warn("custom tool schema does not compile, skipping validation",
				"tenant", cfg.TenantID, "tool", cfg.Name, "error", err)
		}
		return nil
	}

	// Round-trip through JSON so Go-typed values ([]string, int) reach
	// the validator as plain JSON values.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%s", oneLine(err.Error()))
	}
	return nil
}

func compileSchema(cfg *store.CustomTool) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(tools.ParameterSchema(cfg.Parameters))
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// oneLine joins a multi-line validation report into a single line.
func oneLine(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "; ")
}
