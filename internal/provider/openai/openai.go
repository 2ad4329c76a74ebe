// Package openai adapts github.com/openai/openai-go to the chat.ChatClient
// interface. It serves both spec-mandated `api_provider` values: `openai`
// (default base URL) and `openrouter` (an OpenAI-wire-compatible base URL),
// selected purely by configuration — OpenRouter speaks the same Chat
// Completions shape this client already builds.
//
// Grounded on the teacher's internal/provider/openai/openai.go; the request/
// response plumbing is kept, adapted from the teacher's own Request/Message
// types to internal/execcontext's Message/ToolCall and internal/chat's
// CompletionParams.
package openai

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/execcontext"
)

// Config configures one Client instance.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements chat.ChatClient against OpenAI's (or an
// OpenAI-compatible) Chat Completions API.
type Client struct {
	inner  openai.Client
	config Config
}

// NewClient builds a Client for api_provider "openai". base URL defaults to
// OpenAI's production endpoint.
func NewClient(cfg Config) (*Client, error) {
	return newClient(cfg, "https://api.openai.com/v1", []string{"OPENAI_API_KEY", "OPENAI_KEY"})
}

// NewOpenRouterClient builds a Client for api_provider "openrouter": same
// wire protocol, different default base URL and API key environment lookup.
func NewOpenRouterClient(cfg Config) (*Client, error) {
	return newClient(cfg, "https://openrouter.ai/api/v1", []string{"OPENROUTER_API_KEY"})
}

func newClient(cfg Config, defaultBaseURL string, envVars []string) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.APIKey == "" {
		for _, v := range envVars {
			if key := os.Getenv(v); key != "" {
				cfg.APIKey = key
				break
			}
		}
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key found for base URL %s", cfg.BaseURL)
	}

	inner := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	return &Client{inner: inner, config: cfg}, nil
}

// Complete implements chat.ChatClient.
func (c *Client) Complete(ctx context.Context, messages []execcontext.Message, params chat.CompletionParams) (execcontext.Message, []execcontext.ToolCall, error) {
	reqMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			reqMessages = append(reqMessages, openai.SystemMessage(m.Content))
		case "user":
			reqMessages = append(reqMessages, openai.UserMessage(m.Content))
		case "assistant":
			reqMessages = append(reqMessages, openai.AssistantMessage(m.Content))
		case "tool":
			reqMessages = append(reqMessages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	reqTools := make([]openai.ChatCompletionToolParam, 0, len(params.Tools))
	for _, t := range params.Tools {
		reqTools = append(reqTools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
			},
		})
	}

	newParams := openai.ChatCompletionNewParams{
		Model:    params.Model,
		Messages: reqMessages,
		Tools:    reqTools,
	}
	if params.JSON {
		newParams.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.inner.Chat.Completions.New(ctx, newParams)
	if err != nil {
		return execcontext.Message{}, nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return execcontext.Message{}, nil, fmt.Errorf("openai completion: empty choices")
	}

	choice := resp.Choices[0]
	log.Debug().
		Str("model", params.Model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai chat completion")

	assistant := execcontext.Message{Role: "assistant", Content: choice.Message.Content}

	var toolCalls []execcontext.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, execcontext.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return assistant, toolCalls, nil
}
