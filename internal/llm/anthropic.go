package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(apiKey, model string, opts *clientOptions) (*anthropicClient, error) {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.baseURL))
	}

	return &anthropicClient{client: anthropic.NewClient(clientOpts...), model: model}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	o := resolveCallOptions(opts)
	system, chat := splitSystem(messages)
	// no native JSON mode; ask for it in the system prompt
	if o.json {
		system = append(system, jsonInstruction)
	}

	systemBlocks := make([]anthropic.TextBlockParam, len(system))
	for i, text := range system {
		systemBlocks[i] = anthropic.TextBlockParam{Text: text}
	}
	chatMessages := make([]anthropic.MessageParam, len(chat))
	for i, m := range chat {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			chatMessages[i] = anthropic.NewAssistantMessage(block)
		} else {
			chatMessages[i] = anthropic.NewUserMessage(block)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: o.maxTokens,
		System:    systemBlocks,
		Messages:  chatMessages,
	}
	if o.temperature != nil {
		params.Temperature = anthropic.Float(*o.temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var reply strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			reply.WriteString(resp.Content[i].Text)
		}
	}

	text := strings.TrimSpace(reply.String())
	if o.json {
		text = ExtractJSON(text)
	}
	if text == "" {
		return "", fmt.Errorf("anthropic %s: %w", c.model, ErrEmptyReply)
	}
	return text, nil
}
