package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	ctx := context.Background()
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.baseURL != "" {
		config.HTTPOptions.BaseURL = opts.baseURL
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiClient{client: client, model: model}, nil
}

// convertGeminiMessages maps the conversation onto Gemini contents. Every
// system prompt becomes one part of the system instruction.
func convertGeminiMessages(messages []Message) (*genai.Content, []*genai.Content) {
	system, chat := splitSystem(messages)

	var systemInstruction *genai.Content
	if len(system) > 0 {
		systemInstruction = &genai.Content{}
		for _, text := range system {
			systemInstruction.Parts = append(systemInstruction.Parts, genai.NewPartFromText(text))
		}
	}

	contents := make([]*genai.Content, len(chat))
	for i, m := range chat {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.Role(genai.RoleModel)
		}
		contents[i] = genai.NewContentFromText(m.Content, role)
	}
	return systemInstruction, contents
}

func (c *geminiClient) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	if !hasUserMessage(messages) {
		return "", fmt.Errorf("gemini: %w", ErrNoUserMessage)
	}
	o := resolveCallOptions(opts)
	systemInstruction, contents := convertGeminiMessages(messages)

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		MaxOutputTokens:   int32(o.maxTokens),
	}
	if o.json {
		config.ResponseMIMEType = "application/json"
	}
	if o.temperature != nil {
		config.Temperature = genai.Ptr(float32(*o.temperature))
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("gemini %s: %w", c.model, ErrEmptyReply)
	}
	return text, nil
}
