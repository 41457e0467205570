package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client. A non-empty baseURL targets an
// OpenAI-compatible server.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && retryableStatus(apiErr.StatusCode) {
			return "", &RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}
