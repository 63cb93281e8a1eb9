package devicecheck

import (
	"bytes"
	"context"
	"sync"

	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/speech"
)

type fakeLister struct {
	devices []media.DeviceInfo
	err     error
}

func (l *fakeLister) InputDevices(context.Context) ([]media.DeviceInfo, error) {
	return l.devices, l.err
}

type fakeStream struct {
	sample  float32
	payload []byte

	mu     sync.Mutex
	closed int
}

func (s *fakeStream) SampleRate() int { return 16000 }

func (s *fakeStream) Frame(dst []float32) (int, error) {
	for i := range dst {
		dst[i] = s.sample
	}
	return len(dst), nil
}

func (s *fakeStream) Tap() (<-chan []byte, func()) {
	ch := make(chan []byte, 4)
	if len(s.payload) > 0 {
		ch <- bytes.Clone(s.payload)
	}
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCapturer struct {
	stream *fakeStream
	err    error
	onOpen func()
	opened []string
}

func (c *fakeCapturer) OpenInput(_ context.Context, id string) (media.InputStream, error) {
	if c.onOpen != nil {
		c.onOpen()
	}
	c.opened = append(c.opened, id)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type wavOnlyCodec struct{}

func (wavOnlyCodec) Supports(mime string) bool { return mime == media.MIMEWav }

func (wavOnlyCodec) Encode(pcm []byte, _ int, _ string) ([]byte, error) { return pcm, nil }

func (wavOnlyCodec) Decode(data []byte, _ string) ([]byte, int, error) { return data, 16000, nil }

type fakeSpeech struct {
	mu       sync.Mutex
	canceled bool
}

func (s *fakeSpeech) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
}

func (s *fakeSpeech) wasCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

type fakeSynth struct {
	mu       sync.Mutex
	texts    []string
	handlers []speech.SynthesisHandlers
	speeches []*fakeSpeech
}

func (f *fakeSynth) Voices(context.Context) ([]speech.Voice, error) { return nil, nil }

func (f *fakeSynth) Speak(_ context.Context, u speech.Utterance, h speech.SynthesisHandlers) (speech.Speech, error) {
	s := &fakeSpeech{}
	f.mu.Lock()
	f.texts = append(f.texts, u.Text)
	f.handlers = append(f.handlers, h)
	f.speeches = append(f.speeches, s)
	f.mu.Unlock()
	return s, nil
}

type silentRecognition struct {
	mu      sync.Mutex
	results media.Listeners[speech.ResultBatch]
	errs    media.Listeners[speech.RecognitionError]
	ends    media.Listeners[struct{}]
	started int
}

func (r *silentRecognition) Start(context.Context) error {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	return nil
}

func (r *silentRecognition) Stop() {}

func (r *silentRecognition) OnResult(fn func(speech.ResultBatch)) func() { return r.results.Add(fn) }

func (r *silentRecognition) OnError(fn func(speech.RecognitionError)) func() { return r.errs.Add(fn) }

func (r *silentRecognition) OnEnd(fn func(struct{})) func() { return r.ends.Add(fn) }

type fakeRecognizer struct {
	rec *silentRecognition
}

func (f *fakeRecognizer) NewRecognition(speech.RecognitionConfig, speech.AudioSource) (speech.Recognition, error) {
	return f.rec, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	states []State
	levels []float64
}

func (e *recordedEvents) DeviceCheckChanged(s State) {
	e.mu.Lock()
	e.states = append(e.states, s)
	e.mu.Unlock()
}

func (e *recordedEvents) LevelChanged(level float64) {
	e.mu.Lock()
	e.levels = append(e.levels, level)
	e.mu.Unlock()
}

func (e *recordedEvents) levelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.levels)
}
