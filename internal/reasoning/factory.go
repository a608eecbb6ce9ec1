package reasoning

import (
	"context"
	"fmt"
	"time"

	"trustaudit/internal/config"
)

// neutralVerdict is what the scripted provider answers when no script file
// is configured, so offline runs still produce a parseable verdict.
const neutralVerdict = `{"trust_score": 50, "risk_level": "MODERATE", "recommendation": "VERIFY",
"reasoning": "Offline scripted provider; no independent reasoning was performed.",
"red_flags": [], "positive_signals": [], "gaps": ["reasoning service not configured"]}`

// NewFromConfig builds the configured provider.
func NewFromConfig(ctx context.Context, cfg config.ReasoningConfig, timeout time.Duration) (Service, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiService(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: timeout,
		})
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		oc.Model = cfg.Model
		oc.BaseURL = cfg.BaseURL
		oc.Timeout = timeout
		return NewOpenAIService(oc), nil
	case "scripted":
		if cfg.Script != "" {
			return LoadScript(cfg.Script)
		}
		s := NewScripted(TextStep(neutralVerdict))
		s.Loop = true
		return s, nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q (valid: %v)", cfg.Provider, config.ValidProviders)
	}
}
