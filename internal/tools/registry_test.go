package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes the query",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			return "echo: " + q, nil
		},
		Schema: ToolSchema{
			Required: []string{"query", "reason"},
			Properties: map[string]Property{
				"query":  {Type: "string", Description: "search text", MinLength: 3, MaxLength: 200},
				"reason": {Type: "string", Description: "why", MinLength: 1},
			},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("investigate")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("investigate")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if !reg.Has("investigate") || reg.Has("other") {
		t.Error("Has reported wrong membership")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "investigate" {
		t.Errorf("Names() = %v", names)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("dupe")); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := reg.Register(echoTool("dupe"))
	if !errors.Is(err, ErrDuplicateCapability) {
		t.Fatalf("expected ErrDuplicateCapability, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    &Tool{Name: "", Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
			wantErr: ErrUnnamedCapability,
		},
		{
			name:    "nil execute",
			tool:    &Tool{Name: "x"},
			wantErr: ErrNoHandler,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.tool)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("investigate"))
	ctx := context.Background()

	res, err := reg.Execute(ctx, "investigate", map[string]any{"query": "acme roofing lawsuit", "reason": "check litigation"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsSuccess() || res.Result != "echo: acme roofing lawsuit" {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = reg.Execute(ctx, "delete_records", nil)
	if !errors.Is(err, ErrUnknownCapability) {
		t.Errorf("expected ErrUnknownCapability, got %v", err)
	}
	if err == nil || err.Error() != "unknown capability: delete_records" {
		t.Errorf("error = %v", err)
	}
}

func TestExecute_SchemaValidation(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("investigate"))
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing reason", map[string]any{"query": "acme roofing"}},
		{"query too short", map[string]any{"query": "ac", "reason": "x"}},
		{"wrong type", map[string]any{"query": 42, "reason": "x"}},
		{"unknown property", map[string]any{"query": "acme", "reason": "x", "url": "http://x"}},
		{"nil args", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Execute(ctx, "investigate", tt.args)
			if !errors.Is(err, ErrInvalidArgs) {
				t.Fatalf("expected ErrInvalidArgs, got %v", err)
			}
			if res == nil || res.IsSuccess() {
				t.Error("expected a failed ToolResult")
			}
		})
	}
}

func TestToolSchema_JSONSchema(t *testing.T) {
	s := echoTool("x").Schema.JSONSchema()
	if s["type"] != "object" || s["additionalProperties"] != false {
		t.Errorf("unexpected schema root %v", s)
	}
	props := s["properties"].(map[string]any)
	q := props["query"].(map[string]any)
	if q["minLength"] != 3 || q["maxLength"] != 200 {
		t.Errorf("query property = %v", q)
	}
}
