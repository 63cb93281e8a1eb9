package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/sjawhar/rehearsal/internal/media"
)

type fakeFrames struct {
	mu     sync.Mutex
	sample float32
	err    error
}

func (f *fakeFrames) Frame(dst []float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for i := range dst {
		dst[i] = f.sample
	}
	return len(dst), nil
}

func (f *fakeFrames) set(sample float32, err error) {
	f.mu.Lock()
	f.sample = sample
	f.err = err
	f.mu.Unlock()
}

type fakeTap struct {
	rate int
	ch   chan []byte
	once sync.Once
}

func newFakeTap(rate int) *fakeTap {
	return &fakeTap{rate: rate, ch: make(chan []byte, 64)}
}

func (f *fakeTap) SampleRate() int { return f.rate }

func (f *fakeTap) Tap() (<-chan []byte, func()) {
	return f.ch, func() { f.once.Do(func() { close(f.ch) }) }
}

type fakeCodec struct {
	supported map[string]bool
	encodeErr map[string]error
	encoded   []string
}

func (c *fakeCodec) Supports(mime string) bool {
	return mime == media.MIMEWav || c.supported[mime]
}

func (c *fakeCodec) Encode(pcm []byte, _ int, mime string) ([]byte, error) {
	c.encoded = append(c.encoded, mime)
	if err := c.encodeErr[mime]; err != nil {
		return nil, err
	}
	return append([]byte(mime+":"), pcm...), nil
}

func (c *fakeCodec) Decode(data []byte, _ string) ([]byte, int, error) {
	return data, 16000, nil
}

type fakePlayback struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Err() error            { return p.err }
func (p *fakePlayback) Stop()                 { p.finish() }
func (p *fakePlayback) finish()               { p.once.Do(func() { close(p.done) }) }

type fakePlayer struct {
	mu    sync.Mutex
	plays []*fakePlayback
	err   error
}

func (p *fakePlayer) Play(_ context.Context, _ []byte, _ int, _ float64) (media.Playback, error) {
	if p.err != nil {
		return nil, p.err
	}
	pb := &fakePlayback{done: make(chan struct{})}
	p.mu.Lock()
	p.plays = append(p.plays, pb)
	p.mu.Unlock()
	return pb, nil
}

var errFake = errors.New("fake failure")
