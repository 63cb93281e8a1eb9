package llm

import "errors"

var (
	ErrEmptyReply      = errors.New("empty response")
	ErrNoUserMessage   = errors.New("no user message provided")
	ErrUnknownProvider = errors.New("unknown LLM provider")
)
