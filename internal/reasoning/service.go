// Package reasoning defines the contract with the external reasoning service
// that drives the audit loop, plus the providers that satisfy it.
//
// A Service receives the full conversation history and the tool definitions
// currently on offer, and returns either text, tool calls, or both. It holds
// no conversation state of its own.
package reasoning

import (
	"context"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolDefinition describes a capability the service may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a capability invocation requested by the service.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested capabilities.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool messages answering a call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// SystemMessage, UserMessage and ToolMessage build history entries.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Content: text} }

func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

func ToolMessage(call ToolCall, result string) Message {
	return Message{Role: RoleTool, Content: result, ToolCallID: call.ID, ToolName: call.Name}
}

// AssistantMessage records a reply in the history.
func AssistantMessage(r *Reply) Message {
	if r == nil {
		return Message{Role: RoleAssistant}
	}
	return Message{Role: RoleAssistant, Content: r.Text, ToolCalls: r.ToolCalls}
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Reply is the service's answer to one Converse call.
type Reply struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// HasToolCalls reports whether the reply requested any capability.
func (r *Reply) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Service is the reasoning service contract.
type Service interface {
	Converse(ctx context.Context, history []Message, tools []ToolDefinition) (*Reply, error)
	Provider() string
	Model() string
}

// ServiceError is a transport or API failure talking to the reasoning
// service. StatusCode is zero when no HTTP status was observed.
type ServiceError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s reasoning service: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s reasoning service: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt may succeed.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
