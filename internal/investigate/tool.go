package investigate

import (
	"context"
	"strings"

	"trustaudit/internal/tools"
)

// RunFunc executes one investigate call on behalf of the audit loop, which
// owns the budget.
type RunFunc func(ctx context.Context, query, reason string) (string, error)

// Schema is the argument schema of the investigate capability.
func Schema() tools.ToolSchema {
	return tools.ToolSchema{
		Required: []string{"query", "reason"},
		Properties: map[string]tools.Property{
			"query": {
				Type:        "string",
				Description: "Free-text web search query about the business",
				MinLength:   3,
				MaxLength:   300,
			},
			"reason": {
				Type:        "string",
				Description: "The specific suspicion this search should resolve",
				MinLength:   3,
				MaxLength:   500,
			},
		},
	}
}

// NewTool wraps run as the investigate tool.
func NewTool(run RunFunc) *tools.Tool {
	return &tools.Tool{
		Name: ToolName,
		Description: "Run one ad hoc web search about the business under audit to resolve a specific suspicion. " +
			"The budget is small; explain why the search is needed.",
		Schema: Schema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			reason, _ := args["reason"].(string)
			return run(ctx, strings.TrimSpace(query), strings.TrimSpace(reason))
		},
	}
}
