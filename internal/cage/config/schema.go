package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// agentConfigSchema bounds the shape of the CLAUDE_CONFIG JSON blob
// (spec.md §6.1) the pool manager injects verbatim into a container's
// environment. It exists to catch a malformed blob at assignment time
// rather than have it silently break the in-container process.
const agentConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"system_prompt": {"type": "string"},
		"model": {"type": "string"},
		"mcp_servers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "command"],
				"properties": {
					"name": {"type": "string"},
					"command": {"type": "string"},
					"args": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"tools": {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": true
}`

var (
	schemaOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr    error
)

func compiledAgentConfigSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("agent-config.json", strings.NewReader(agentConfigSchema)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = compiler.Compile("agent-config.json")
	})
	return compiledSchema, compileErr
}

// ValidateAgentConfig parses raw as JSON and checks it against the fixed
// CLAUDE_CONFIG schema. An empty raw is valid — the field is optional.
func ValidateAgentConfig(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("config: CLAUDE_CONFIG is not valid JSON: %w", err)
	}

	schema, err := compiledAgentConfigSchema()
	if err != nil {
		return fmt.Errorf("config: compile agent config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: CLAUDE_CONFIG failed validation: %w", err)
	}
	return nil
}
