package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/rehearsal/internal/media"
)

const DefaultDeepgramModel = "nova-2"

var errConnect = errors.New("deepgram connect failed")

type liveConn interface {
	Connect() bool
	Stop()
	Write(p []byte) (int, error)
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error)

// DeepgramRecognizer streams PCM to Deepgram's live websocket API.
type DeepgramRecognizer struct {
	apiKey string
	model  string
	dial   dialFunc
}

func NewDeepgramRecognizer(apiKey, model string) *DeepgramRecognizer {
	if model == "" {
		model = DefaultDeepgramModel
	}
	r := &DeepgramRecognizer{apiKey: apiKey, model: model}
	r.dial = func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveConn, error) {
		cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
		return client.NewWSUsingCallback(ctx, r.apiKey, cOptions, opts, cb)
	}
	return r
}

func (r *DeepgramRecognizer) NewRecognition(cfg RecognitionConfig, src AudioSource) (Recognition, error) {
	if r.apiKey == "" {
		return nil, fmt.Errorf("deepgram recognition: %w", media.ErrUnsupported)
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	return &deepgramRecognition{recognizer: r, cfg: cfg, src: src}, nil
}

type deepgramRecognition struct {
	recognitionListeners

	recognizer *DeepgramRecognizer
	cfg        RecognitionConfig
	src        AudioSource

	mu  sync.Mutex
	run *deepgramRun
}

func (d *deepgramRecognition) options() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.recognizer.model,
		Language:       d.cfg.Language,
		InterimResults: d.cfg.InterimResults,
		Encoding:       "linear16",
		SampleRate:     d.src.SampleRate(),
		Channels:       1,
	}
}

// Start connects and begins streaming. Starting a running recognition is a no-op.
func (d *deepgramRecognition) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != nil && !d.run.closed.Load() {
		return nil
	}

	run := &deepgramRun{owner: d, pumpDone: make(chan struct{})}
	conn, err := d.recognizer.dial(ctx, d.options(), run)
	if err != nil {
		return fmt.Errorf("dial deepgram: %w", err)
	}
	if !conn.Connect() {
		return errConnect
	}
	run.conn = conn

	taps, cancel := d.src.Tap()
	run.cancelTap = cancel
	go run.pump(taps)

	d.run = run
	return nil
}

func (d *deepgramRecognition) Stop() {
	d.mu.Lock()
	run := d.run
	d.run = nil
	d.mu.Unlock()

	if run != nil {
		run.stop()
	}
}

// deepgramRun is one websocket connection. Audio stops flowing once it is
// stopping; results still arrive until the connection has flushed and closed.
type deepgramRun struct {
	owner     *deepgramRecognition
	conn      liveConn
	cancelTap func()
	pumpDone  chan struct{}

	index    atomic.Int64
	stopping atomic.Bool
	closed   atomic.Bool
	stopOnce sync.Once
}

func (r *deepgramRun) pump(taps <-chan []byte) {
	defer close(r.pumpDone)
	failed := false
	for data := range taps {
		if failed || r.stopping.Load() {
			continue
		}
		if _, err := r.conn.Write(data); err != nil {
			slog.Warn("deepgram write failed", "error", err)
			failed = true
		}
	}
}

// stop tears the connection down and reports the end exactly once. Finals
// the server flushes while the connection closes are still delivered.
func (r *deepgramRun) stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		r.cancelTap()
		<-r.pumpDone
		r.conn.Stop()
		r.closed.Store(true)
		r.owner.ends.Emit(struct{}{})
	})
}

func (r *deepgramRun) Open(*api.OpenResponse) error {
	slog.Info("connected to Deepgram")
	return nil
}

func (r *deepgramRun) Message(mr *api.MessageResponse) error {
	if r.closed.Load() || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	index := int(r.index.Load())

	if mr.IsFinal {
		if strings.TrimSpace(text) == "" {
			r.owner.results.Emit(ResultBatch{StartIndex: index})
			return nil
		}
		r.index.Add(1)
	}
	r.owner.results.Emit(ResultBatch{
		StartIndex: index,
		Results:    []Result{{Text: text, Final: mr.IsFinal}},
	})
	return nil
}

func (r *deepgramRun) Metadata(*api.MetadataResponse) error { return nil }

func (r *deepgramRun) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (r *deepgramRun) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (r *deepgramRun) Close(*api.CloseResponse) error {
	slog.Info("disconnected from Deepgram")
	if !r.stopping.Load() {
		go r.stop()
	}
	return nil
}

func (r *deepgramRun) Error(er *api.ErrorResponse) error {
	if r.closed.Load() {
		return nil
	}
	r.owner.errs.Emit(RecognitionError{Code: er.ErrCode, Message: er.Description})
	return nil
}

func (r *deepgramRun) UnhandledEvent([]byte) error { return nil }
