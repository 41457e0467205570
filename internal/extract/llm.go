package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Completer sends one system and user prompt to a language model and
// returns the text of its reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Provider names accepted by NewCompleter.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderConfig selects and configures the language model backend.
type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// NewCompleter builds the Completer for cfg.Provider.
func NewCompleter(cfg ProviderConfig) (Completer, error) {
	switch normalizeProvider(cfg.Provider) {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case ProviderOpenAI, "openai-compatible":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func normalizeProvider(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(p, "_", "-")
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// stripCodeBlock removes a markdown code fence around a JSON reply.
func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
