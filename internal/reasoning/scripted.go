package reasoning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrScriptExhausted is returned when a Scripted service runs out of steps.
var ErrScriptExhausted = errors.New("script exhausted")

// Step is one canned answer of a Scripted service.
type Step struct {
	Text      string     `yaml:"text"`
	ToolCalls []ToolCall `yaml:"tool_calls"`
	Err       string     `yaml:"error"`
	Usage     Usage      `yaml:"usage"`
}

// TextStep answers with free text.
func TextStep(text string) Step { return Step{Text: text} }

// ToolStep answers with a single tool call.
func ToolStep(name string, input map[string]any) Step {
	return Step{ToolCalls: []ToolCall{{Name: name, Input: input}}}
}

// ErrorStep fails the call with a ServiceError.
func ErrorStep(msg string) Step { return Step{Err: msg} }

// Call is what a Scripted service saw on one Converse call.
type Call struct {
	History []Message
	Tools   []ToolDefinition
}

// Scripted replays a fixed list of steps. When Loop is set the last step
// repeats forever; otherwise running past the end returns ErrScriptExhausted.
type Scripted struct {
	Loop bool

	mu    sync.Mutex
	steps []Step
	calls []Call
}

// NewScripted creates a stub that answers with steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// LoadScript reads steps from a YAML file:
//
//	loop: false
//	steps:
//	  - tool_calls: [{name: investigate, input: {query: "...", reason: "..."}}]
//	  - text: '{"trust_score": 70, ...}'
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var doc struct {
		Loop  bool   `yaml:"loop"`
		Steps []Step `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", path)
	}
	s := NewScripted(doc.Steps...)
	s.Loop = doc.Loop
	return s, nil
}

func (s *Scripted) Provider() string { return "scripted" }
func (s *Scripted) Model() string    { return "scripted" }

// Converse returns the next step.
func (s *Scripted) Converse(ctx context.Context, history []Message, tools []ToolDefinition) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ServiceError{Provider: s.Provider(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.calls)
	s.calls = append(s.calls, Call{
		History: append([]Message(nil), history...),
		Tools:   append([]ToolDefinition(nil), tools...),
	})

	if len(s.steps) == 0 || (n >= len(s.steps) && !s.Loop) {
		return nil, &ServiceError{Provider: s.Provider(), Err: ErrScriptExhausted}
	}
	if n >= len(s.steps) {
		n = len(s.steps) - 1
	}
	step := s.steps[n]
	if step.Err != "" {
		return nil, &ServiceError{Provider: s.Provider(), Err: errors.New(step.Err)}
	}

	reply := &Reply{Text: step.Text, StopReason: "stop", Usage: step.Usage}
	for i, tc := range step.ToolCalls {
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d_%d", n, i)
		}
		if tc.Input == nil {
			tc.Input = map[string]any{}
		}
		reply.ToolCalls = append(reply.ToolCalls, tc)
	}
	if len(reply.ToolCalls) > 0 {
		reply.StopReason = "tool_calls"
	}
	return reply, nil
}

// Calls returns a copy of every call received so far.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns the number of Converse calls received.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
