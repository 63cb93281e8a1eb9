package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// splitSystem separates system prompts from the conversation for providers
// that take them out of band.
func splitSystem(messages []Message) (system []string, chat []Message) {
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser, RoleAssistant:
			chat = append(chat, m)
		}
	}
	return system, chat
}

func hasUserMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

type Client interface {
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// CallOption tunes a single completion.
type CallOption func(*callOptions)

type callOptions struct {
	json        bool
	temperature *float64
	maxTokens   int64
}

// WithJSON asks the provider for a single JSON object as the reply.
func WithJSON() CallOption {
	return func(o *callOptions) { o.json = true }
}

func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

func WithMaxTokens(n int64) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

func resolveCallOptions(opts []CallOption) callOptions {
	o := callOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const (
	defaultMaxTokens = 8192

	jsonInstruction = "Respond with a single valid JSON object and nothing else."
)

// ExtractJSON returns the outermost JSON object in a reply, dropping markdown
// fences and any prose around it.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		s, _, _ = strings.Cut(rest, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("%w %q: supported providers are openai, anthropic, gemini", ErrUnknownProvider, provider)
	}
}
