package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trustaudit/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// MaxRetries bounds retries on 429 and 5xx responses.
	MaxRetries int
	// RetryBase is the first backoff delay; each retry doubles it.
	RetryBase time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryBase:  time.Second,
	}
}

// OpenAIService talks to /chat/completions with function tools.
type OpenAIService struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIService creates a service from cfg, filling zero fields from
// DefaultOpenAIConfig.
func NewOpenAIService(cfg OpenAIConfig) *OpenAIService {
	def := DefaultOpenAIConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	return &OpenAIService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *OpenAIService) Provider() string { return "openai" }
func (s *OpenAIService) Model() string    { return s.cfg.Model }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Converse sends the history and returns the first choice.
func (s *OpenAIService) Converse(ctx context.Context, history []Message, tools []ToolDefinition) (*Reply, error) {
	if s.cfg.APIKey == "" {
		return nil, &ServiceError{Provider: s.Provider(), Err: errors.New("API key not configured")}
	}

	reqBody := openAIRequest{
		Model:       s.cfg.Model,
		Messages:    toOpenAIMessages(history),
		Temperature: 0.1,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, openAITool{
			Type:     "function",
			Function: openAIToolFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	logging.ReasoningDebug("[OpenAI] Converse: model=%s messages=%d tools=%d", s.cfg.Model, len(history), len(tools))

	var lastErr error
	for i := 0; i <= s.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, &ServiceError{Provider: s.Provider(), Err: ctx.Err()}
			case <-time.After(s.cfg.RetryBase << uint(i-1)):
			}
		}

		body, status, err := s.post(ctx, jsonData)
		if err != nil {
			lastErr = &ServiceError{Provider: s.Provider(), Err: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = &ServiceError{Provider: s.Provider(), StatusCode: status, Err: fmt.Errorf("retryable response: %s", truncate(string(body), 200))}
			continue
		}
		if status != http.StatusOK {
			return nil, &ServiceError{Provider: s.Provider(), StatusCode: status, Err: fmt.Errorf("API request failed: %s", truncate(string(body), 500))}
		}

		reply, err := parseOpenAIResponse(body)
		if err != nil {
			return nil, &ServiceError{Provider: s.Provider(), StatusCode: status, Err: err}
		}
		logging.Reasoning("[OpenAI] Converse: completed in %v tool_calls=%d text_len=%d", time.Since(start), len(reply.ToolCalls), len(reply.Text))
		return reply, nil
	}

	logging.Get(logging.CategoryReasoning).Warn("[OpenAI] Converse: max retries exceeded after %v: %v", time.Since(start), lastErr)
	return nil, lastErr
}

func (s *OpenAIService) post(ctx context.Context, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func parseOpenAIResponse(body []byte) (*Reply, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no completion returned")
	}

	choice := resp.Choices[0]
	reply := &Reply{
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != nil {
		reply.Text = strings.TrimSpace(*choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				// Surface malformed arguments to the tool layer so validation rejects them.
				input = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return reply, nil
}

func toOpenAIMessages(history []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(history))
	for _, m := range history {
		content := m.Content
		msg := openAIMessage{Role: string(m.Role), Content: &content}
		switch m.Role {
		case RoleAssistant:
			if content == "" && len(m.ToolCalls) > 0 {
				msg.Content = nil
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					args = []byte("{}")
				}
				call := openAIToolCall{ID: tc.ID, Type: "function"}
				call.Function.Name = tc.Name
				call.Function.Arguments = string(args)
				msg.ToolCalls = append(msg.ToolCalls, call)
			}
		case RoleTool:
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
