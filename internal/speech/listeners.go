package speech

import "github.com/sjawhar/rehearsal/internal/media"

// recognitionListeners implements the On* half of Recognition.
type recognitionListeners struct {
	results media.Listeners[ResultBatch]
	errs    media.Listeners[RecognitionError]
	ends    media.Listeners[struct{}]
}

func (l *recognitionListeners) OnResult(fn func(ResultBatch)) func() { return l.results.Add(fn) }

func (l *recognitionListeners) OnError(fn func(RecognitionError)) func() { return l.errs.Add(fn) }

func (l *recognitionListeners) OnEnd(fn func(struct{})) func() { return l.ends.Add(fn) }
