package speech

import (
	"context"
	"strings"
)

type Voice struct {
	Name       string `json:"name"`
	Language   string `json:"language"`
	Gender     string `json:"gender,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Utterance is one narration request after settings were applied.
type Utterance struct {
	Text     string
	Language string
	Voice    string
	Rate     float64
	Volume   float64
}

// SynthesisHandlers are called from the synthesizer's goroutines. OnEnd and
// OnError are terminal and mutually exclusive.
type SynthesisHandlers struct {
	OnStart    func()
	OnBoundary func()
	OnEnd      func()
	OnError    func(error)
}

// Speech is an utterance in flight. Cancel is idempotent and fires no handler.
type Speech interface {
	Cancel()
}

type Synthesizer interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, u Utterance, h SynthesisHandlers) (Speech, error)
}

// FilterVoices keeps voices whose language mentions the locale's language or
// region. When none match the whole catalog is returned.
func FilterVoices(catalog []Voice, locale string) []Voice {
	lang, region, _ := strings.Cut(locale, "-")
	var matched []Voice
	for _, v := range catalog {
		if (lang != "" && strings.Contains(v.Language, lang)) || (region != "" && strings.Contains(v.Language, region)) {
			matched = append(matched, v)
		}
	}
	if len(matched) == 0 {
		return catalog
	}
	return matched
}
