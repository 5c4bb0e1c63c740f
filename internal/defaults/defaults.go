// Package defaults provides the embedded starter configuration written
// by the agentdash init subcommand.
package defaults

import _ "embed"

// ConfigYAML is a commented example config.yaml.
//
//go:embed config.example.yaml
var ConfigYAML []byte
