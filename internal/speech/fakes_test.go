package speech

import (
	"context"
	"errors"
	"sync"
)

type fakeRecognition struct {
	recognitionListeners

	mu      sync.Mutex
	starts  int
	stops   int
	startFn func() error
}

func (f *fakeRecognition) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	fn := f.startFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (f *fakeRecognition) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeRecognition) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRecognition) listenerCount() int {
	return f.results.Len() + f.errs.Len() + f.ends.Len()
}

type fakeSpeech struct {
	mu       sync.Mutex
	canceled int
}

func (s *fakeSpeech) Cancel() {
	s.mu.Lock()
	s.canceled++
	s.mu.Unlock()
}

func (s *fakeSpeech) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

type fakeSynth struct {
	mu       sync.Mutex
	voices   []Voice
	err      error
	spoken   []Utterance
	handlers []SynthesisHandlers
	speeches []*fakeSpeech
}

func (f *fakeSynth) Voices(context.Context) ([]Voice, error) {
	return f.voices, f.err
}

func (f *fakeSynth) Speak(_ context.Context, u Utterance, h SynthesisHandlers) (Speech, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSpeech{}
	f.mu.Lock()
	f.spoken = append(f.spoken, u)
	f.handlers = append(f.handlers, h)
	f.speeches = append(f.speeches, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSynth) last() (SynthesisHandlers, *fakeSpeech) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.handlers) - 1
	return f.handlers[n], f.speeches[n]
}

type fakeSource struct {
	rate int
	ch   chan []byte
	once sync.Once
}

func newFakeSource(rate int) *fakeSource {
	return &fakeSource{rate: rate, ch: make(chan []byte, 16)}
}

func (f *fakeSource) SampleRate() int { return f.rate }

func (f *fakeSource) Tap() (<-chan []byte, func()) {
	return f.ch, func() { f.once.Do(func() { close(f.ch) }) }
}

var errFake = errors.New("fake failure")
