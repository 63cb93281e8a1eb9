package practice

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/sjawhar/rehearsal/internal/evaluation"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/speech"
)

type fakeSource struct {
	mu        sync.Mutex
	questions []Question
	total     int
	stats     QuestionStats
	err       error
	requests  []int
}

func (s *fakeSource) RandomQuestions(_ context.Context, stageID int, _ []int64, count int) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, stageID)
	if s.err != nil {
		return nil, s.err
	}
	if count < len(s.questions) {
		return s.questions[:count], nil
	}
	return s.questions, nil
}

func (s *fakeSource) QuestionCount(context.Context, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.err
}

func (s *fakeSource) QuestionStats(context.Context) (QuestionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, s.err
}

func (s *fakeSource) loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeEvaluator struct {
	mu     sync.Mutex
	report evaluation.Report
	err    error
	reqs   []evaluation.Request
}

func (e *fakeEvaluator) Evaluate(_ context.Context, req evaluation.Request) (evaluation.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return e.report, e.err
}

type fakeSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *fakeSink) SavePracticeSession(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

type fakeObserver struct {
	mu         sync.Mutex
	outcomes   []string
	persistErr int
}

func (o *fakeObserver) EvaluationFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *fakeObserver) PersistFailed() {
	o.mu.Lock()
	o.persistErr++
	o.mu.Unlock()
}

type fakeStream struct {
	payload []byte

	mu     sync.Mutex
	closed int
}

func (s *fakeStream) SampleRate() int { return 16000 }

func (s *fakeStream) Frame(dst []float32) (int, error) {
	for i := range dst {
		dst[i] = 0.05
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
	opened []string
}

func (c *fakeCapturer) OpenInput(_ context.Context, id string) (media.InputStream, error) {
	c.opened = append(c.opened, id)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type fakeDevices struct{ devices []media.DeviceInfo }

func (d fakeDevices) InputDevices(context.Context) ([]media.DeviceInfo, error) { return d.devices, nil }

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

// scriptedRecognition lets a test push recognizer results by hand.
type scriptedRecognition struct {
	results media.Listeners[speech.ResultBatch]
	errs    media.Listeners[speech.RecognitionError]
	ends    media.Listeners[struct{}]
	// onStop runs inside Stop, the way an engine flushes its last results.
	onStop func()
}

func (r *scriptedRecognition) Start(context.Context) error { return nil }

func (r *scriptedRecognition) Stop() {
	if r.onStop != nil {
		r.onStop()
	}
}

func (r *scriptedRecognition) OnResult(fn func(speech.ResultBatch)) func() { return r.results.Add(fn) }

func (r *scriptedRecognition) OnError(fn func(speech.RecognitionError)) func() { return r.errs.Add(fn) }

func (r *scriptedRecognition) OnEnd(fn func(struct{})) func() { return r.ends.Add(fn) }

type fakeRecognizer struct {
	rec *scriptedRecognition
}

func (f *fakeRecognizer) NewRecognition(speech.RecognitionConfig, speech.AudioSource) (speech.Recognition, error) {
	return f.rec, nil
}

type recordedEvents struct {
	mu          sync.Mutex
	snapshots   []Snapshot
	ticks       []int
	advisories  []string
	transcripts []string
}

func (e *recordedEvents) PracticeChanged(s Snapshot) {
	e.mu.Lock()
	e.snapshots = append(e.snapshots, s)
	e.mu.Unlock()
}

func (e *recordedEvents) TimerTick(remaining int) {
	e.mu.Lock()
	e.ticks = append(e.ticks, remaining)
	e.mu.Unlock()
}

func (e *recordedEvents) TranscriptChanged(final, _ string) {
	e.mu.Lock()
	e.transcripts = append(e.transcripts, final)
	e.mu.Unlock()
}

func (e *recordedEvents) Advisory(message string) {
	e.mu.Lock()
	e.advisories = append(e.advisories, message)
	e.mu.Unlock()
}

func (e *recordedEvents) lastAdvisory() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.advisories) == 0 {
		return ""
	}
	return e.advisories[len(e.advisories)-1]
}
