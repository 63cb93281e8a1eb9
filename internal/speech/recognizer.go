package speech

import (
	"context"
	"fmt"
)

const (
	DefaultLanguage = "zh-CN"

	CodeNoSpeech = "no-speech"
	CodeAborted  = "aborted"
)

// Result is one recognized segment. Final segments never change again.
type Result struct {
	Text  string
	Final bool
}

// ResultBatch carries the segments starting at StartIndex: Results[i] is the
// segment at index StartIndex+i.
type ResultBatch struct {
	StartIndex int
	Results    []Result
}

type RecognitionError struct {
	Code    string
	Message string
}

func (e RecognitionError) Error() string {
	if e.Message == "" {
		return "recognition error: " + e.Code
	}
	return fmt.Sprintf("recognition error %s: %s", e.Code, e.Message)
}

type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{Language: DefaultLanguage, Continuous: true, InterimResults: true}
}

// AudioSource is the PCM16-LE feed a recognition listens to.
type AudioSource interface {
	SampleRate() int
	Tap() (<-chan []byte, func())
}

// Recognition is one recognizer bound to an audio source. It may be started
// again after it ends. Every On* call returns a disposer.
type Recognition interface {
	Start(ctx context.Context) error
	Stop()
	OnResult(fn func(ResultBatch)) func()
	OnError(fn func(RecognitionError)) func()
	OnEnd(fn func(struct{})) func()
}

type Recognizer interface {
	NewRecognition(cfg RecognitionConfig, src AudioSource) (Recognition, error)
}
