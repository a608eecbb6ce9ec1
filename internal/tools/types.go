// Package tools holds the capabilities the audit loop may offer to the
// reasoning service. Arguments are validated against each tool's JSON schema
// before the tool runs.
package tools

import (
	"context"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// JSONSchema renders the schema as a JSON Schema object. Unknown
// properties are rejected.
func (s ToolSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.MinLength > 0 {
			prop["minLength"] = p.MinLength
		}
		if p.MaxLength > 0 {
			prop["maxLength"] = p.MaxLength
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one capability.
type Tool struct {
	// Name is the identifier the reasoning service calls.
	Name string

	// Description explains what the tool does.
	Description string

	// Execute runs the tool with validated arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrUnnamedCapability
	}
	if t.Execute == nil {
		return ErrNoHandler
	}
	return nil
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
