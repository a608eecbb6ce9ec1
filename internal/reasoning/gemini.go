package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"trustaudit/internal/logging"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
	Timeout time.Duration
}

// GeminiService implements Service on the genai SDK with function calling.
type GeminiService struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiService creates a Gemini-backed service.
func NewGeminiService(ctx context.Context, cfg GeminiConfig) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiService{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (s *GeminiService) Provider() string { return "gemini" }
func (s *GeminiService) Model() string    { return s.model }

// Converse maps the history onto genai contents. System messages become the
// system instruction; tool results travel as function responses.
func (s *GeminiService) Converse(ctx context.Context, history []Message, tools []ToolDefinition) (*Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	system, contents := toGeminiContents(history)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	start := time.Now()
	logging.ReasoningDebug("[Gemini] Converse: model=%s contents=%d tools=%d", s.model, len(contents), len(tools))

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, &ServiceError{Provider: s.Provider(), Err: err}
	}

	reply, err := fromGeminiResponse(resp)
	if err != nil {
		return nil, &ServiceError{Provider: s.Provider(), Err: err}
	}
	logging.Reasoning("[Gemini] Converse: completed in %v tool_calls=%d text_len=%d", time.Since(start), len(reply.ToolCalls), len(reply.Text))
	return reply, nil
}

func toGeminiContents(history []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Input}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: map[string]any{"output": m.Content},
			}}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates returned")
	}
	cand := resp.Candidates[0]
	reply := &Reply{StopReason: string(cand.FinishReason)}
	if resp.UsageMetadata != nil {
		reply.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if cand.Content == nil {
		return reply, nil
	}

	var text strings.Builder
	for i, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Input: args})
			continue
		}
		text.WriteString(part.Text)
	}
	reply.Text = strings.TrimSpace(text.String())
	return reply, nil
}
