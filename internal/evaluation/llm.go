package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/rehearsal/internal/llm"
)

const NoAnswer = "(未回答)"

type ClientFactory func(provider, model string) (llm.Client, error)

// LLMEvaluator grades a session with a chat model. Failed calls are retried
// with backoff; a reply that is not a valid report is not retried.
type LLMEvaluator struct {
	model   string
	factory ClientFactory
	sleep   func(time.Duration)
	backoff []time.Duration
}

func NewLLMEvaluator(model string, factory ClientFactory) *LLMEvaluator {
	return &LLMEvaluator{
		model:   model,
		factory: factory,
		sleep:   time.Sleep,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second},
	}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, req Request) (Report, error) {
	provider, model, err := llm.ParseModel(e.model)
	if err != nil {
		return Report{}, err
	}
	client, err := e.factory(provider, model)
	if err != nil {
		return Report{}, fmt.Errorf("create llm client: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPrompt(req)},
	}

	var reply string
	var lastErr error
	for attempt := range e.backoff {
		reply, lastErr = client.Complete(ctx, messages, llm.WithJSON(), llm.WithTemperature(0.3))
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		if attempt < len(e.backoff)-1 {
			e.sleep(e.backoff[attempt])
		}
	}
	if lastErr != nil {
		return Report{}, fmt.Errorf("evaluate failed after retries: %w", lastErr)
	}

	report, err := Decode([]byte(llm.ExtractJSON(reply)))
	if err != nil {
		return Report{}, err
	}
	if report.EvaluationID == "" {
		report.EvaluationID = uuid.NewString()
	}
	return report, nil
}
