package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/rehearsal/internal/media"
)

const (
	FlushInterval = time.Second
	// MinClipBytes is the smallest capture treated as a real recording.
	MinClipBytes = 100

	bytesPerSample = 2
)

// PreferredFormats is tried in order; the first supported entry wins.
var PreferredFormats = []string{media.MIMEWebmOpus, media.MIMEMP4, media.MIMEOggOpus}

const DefaultFormat = media.MIMEWav

const (
	msgNoAudio        = "未检测到有效音频输入，请检查麦克风权限和设备连接"
	msgRecordingError = "录音过程中出现错误: %v"
)

func ChooseFormat(codec media.Codec) string {
	for _, mime := range PreferredFormats {
		if codec.Supports(mime) {
			return mime
		}
	}
	return DefaultFormat
}

// Clip is an immutable recorded artifact.
type Clip struct {
	ID           string        `json:"id"`
	Bytes        []byte        `json:"-"`
	MIMEType     string        `json:"mime_type"`
	DurationHint time.Duration `json:"duration_hint"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (c Clip) Size() int { return len(c.Bytes) }

type RecordingStatus string

const (
	RecordingSuccess RecordingStatus = "success"
	RecordingFailed  RecordingStatus = "failed"
)

type RecordingResult struct {
	Status   RecordingStatus
	Clip     *Clip
	Captured int
	Message  string
}

// TapSource is the part of an input stream the recorder reads from. The
// cancel func returned by Tap must close the channel.
type TapSource interface {
	SampleRate() int
	Tap() (<-chan []byte, func())
}

// Recorder accumulates PCM from a stream into chunks, flushed every interval,
// and turns them into one Clip on Stop.
type Recorder struct {
	codec      media.Codec
	mimeType   string
	sampleRate int
	interval   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending bytes.Buffer
	chunks  [][]byte

	cancelTap func()
	done      chan struct{}
	stopOnce  sync.Once
	result    RecordingResult
}

type RecorderOption func(*Recorder)

func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func StartRecording(src TapSource, codec media.Codec, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		codec:      codec,
		mimeType:   ChooseFormat(codec),
		sampleRate: src.SampleRate(),
		interval:   FlushInterval,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	taps, cancel := src.Tap()
	r.cancelTap = cancel
	go r.run(taps)
	return r
}

func (r *Recorder) MIMEType() string { return r.mimeType }

func (r *Recorder) run(taps <-chan []byte) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-taps:
			if !ok {
				return
			}
			r.mu.Lock()
			r.pending.Write(data)
			r.mu.Unlock()
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending.Len() == 0 {
		return
	}
	r.chunks = append(r.chunks, bytes.Clone(r.pending.Bytes()))
	r.pending.Reset()
}

// Captured reports the bytes gathered so far.
func (r *Recorder) Captured() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.pending.Len()
	for _, c := range r.chunks {
		total += len(c)
	}
	return total
}

// Stop ends capture and builds the result. Later calls return the same result.
func (r *Recorder) Stop() RecordingResult {
	r.stopOnce.Do(func() {
		// cancelling the tap closes the channel; run drains what is buffered
		r.cancelTap()
		<-r.done
		r.flush()
		r.result = r.finish()
	})
	return r.result
}

func (r *Recorder) finish() RecordingResult {
	r.mu.Lock()
	pcm := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.mu.Unlock()

	if len(pcm) < MinClipBytes {
		return RecordingResult{Status: RecordingFailed, Captured: len(pcm), Message: msgNoAudio}
	}

	data, err := r.codec.Encode(pcm, r.sampleRate, r.mimeType)
	if err != nil && r.mimeType != DefaultFormat {
		slog.Warn("recorder: falling back to wav", "mime", r.mimeType, "error", err)
		r.mimeType = DefaultFormat
		data, err = r.codec.Encode(pcm, r.sampleRate, r.mimeType)
	}
	if err != nil {
		return RecordingResult{Status: RecordingFailed, Captured: len(pcm), Message: fmt.Sprintf(msgRecordingError, err)}
	}

	var duration time.Duration
	if r.sampleRate > 0 {
		duration = time.Duration(len(pcm)/bytesPerSample) * time.Second / time.Duration(r.sampleRate)
	}

	clip := &Clip{
		ID:           uuid.NewString(),
		Bytes:        data,
		MIMEType:     r.mimeType,
		DurationHint: duration,
		CreatedAt:    r.now().UTC(),
	}
	return RecordingResult{Status: RecordingSuccess, Clip: clip, Captured: len(pcm)}
}
