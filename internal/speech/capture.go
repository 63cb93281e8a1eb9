package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sjawhar/rehearsal/internal/transcribe"
)

const (
	MsgNoSpeech    = "未识别到语音内容，但麦克风工作正常"
	msgRecognition = "语音识别失败: "
)

// CaptureHandlers are optional. They run on recognizer goroutines.
type CaptureHandlers struct {
	// OnTranscript gets the finalized text and the current interim hypothesis.
	OnTranscript func(final, interim string)
	OnAdvisory   func(message string)
	OnNoSpeech   func(message string)
	OnEnd        func()
}

// Capture runs a continuous recognition and keeps its transcript.
type Capture struct {
	ctx        context.Context
	rec        Recognition
	handlers   CaptureHandlers
	transcript *transcribe.Transcript

	mu        sync.Mutex
	listening bool
	restarted bool
	disposers []func()
	endOnce   sync.Once
}

func StartCapture(ctx context.Context, rec Recognition, handlers CaptureHandlers) (*Capture, error) {
	c := &Capture{
		ctx:        context.WithoutCancel(ctx),
		rec:        rec,
		handlers:   handlers,
		transcript: transcribe.NewTranscript(),
		listening:  true,
	}
	c.disposers = append(c.disposers,
		rec.OnResult(c.handleResult),
		rec.OnError(c.handleError),
		rec.OnEnd(func(struct{}) { c.handleEnd() }),
	)

	if err := rec.Start(c.ctx); err != nil {
		c.dispose()
		return nil, err
	}
	return c, nil
}

func (c *Capture) Transcript() *transcribe.Transcript { return c.transcript }

func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *Capture) handleResult(batch ResultBatch) {
	interim := ""
	for i, r := range batch.Results {
		if r.Final {
			c.transcript.Commit(batch.StartIndex+i, transcribe.Punctuate(r.Text))
			continue
		}
		interim = r.Text
	}
	c.transcript.SetInterim(interim)

	if c.handlers.OnTranscript != nil {
		c.handlers.OnTranscript(c.transcript.Final(), interim)
	}
}

func (c *Capture) handleError(e RecognitionError) {
	if e.Code == CodeNoSpeech || e.Code == CodeAborted {
		return
	}
	slog.Warn("speech recognition error", "code", e.Code, "message", e.Message)
	if c.handlers.OnAdvisory != nil {
		c.handlers.OnAdvisory(msgRecognition + e.Code)
	}
}

func (c *Capture) handleEnd() {
	c.mu.Lock()
	restart := c.listening && !c.restarted && !c.transcript.HasFinal()
	if restart {
		c.restarted = true
	}
	c.mu.Unlock()

	if restart {
		// the engine is still unwinding its own end; restart from outside it
		go func() {
			if err := c.rec.Start(c.ctx); err != nil {
				slog.Warn("speech recognition restart failed", "error", err)
				c.finish()
			}
		}()
		return
	}
	c.finish()
}

func (c *Capture) finish() {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()

		c.transcript.SetInterim("")
		if !c.transcript.HasFinal() && c.handlers.OnNoSpeech != nil {
			c.handlers.OnNoSpeech(MsgNoSpeech)
		}
		if c.handlers.OnEnd != nil {
			c.handlers.OnEnd()
		}
	})
}

// Stop ends listening. It is safe to call more than once and after the
// recognition ended by itself.
func (c *Capture) Stop() {
	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()

	c.rec.Stop()
	c.dispose()
	c.finish()
}

func (c *Capture) dispose() {
	c.mu.Lock()
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()
	for _, d := range disposers {
		d()
	}
}
