package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	defaultFramesPerBuffer = 1024
	frameRingSize          = 4096
	tapBuffer              = 64
	closeWait              = 500 * time.Millisecond
)

// PortAudio implements DeviceLister, Capturer and Player on the host audio stack.
type PortAudio struct {
	sampleRates     []int
	framesPerBuffer int
}

func NewPortAudio(sampleRates []int, framesPerBuffer int) *PortAudio {
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultFramesPerBuffer
	}
	if len(sampleRates) == 0 {
		sampleRates = []int{16000, 48000, 44100}
	}
	return &PortAudio{sampleRates: sampleRates, framesPerBuffer: framesPerBuffer}
}

func (p *PortAudio) Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", classifyPortAudio(err))
	}
	return nil
}

func (p *PortAudio) Terminate() error {
	return portaudio.Terminate()
}

func (p *PortAudio) InputDevices(_ context.Context) ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", classifyPortAudio(err))
	}

	defaultName := ""
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = deviceID(def)
	}

	var result []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		id := deviceID(d)
		result = append(result, DeviceInfo{ID: id, Label: d.Name, Default: id == defaultName})
	}
	return result, nil
}

func (p *PortAudio) OpenInput(_ context.Context, id string) (InputStream, error) {
	dev, err := p.findInput(id)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, rate := range p.sampleRates {
		buf := make([]int16, p.framesPerBuffer)
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(rate)
		params.FramesPerBuffer = p.framesPerBuffer

		stream, err := portaudio.OpenStream(params, buf)
		if err != nil {
			lastErr = classifyPortAudio(err)
			if errors.Is(lastErr, ErrConstraints) {
				slog.Warn("input open failed, trying next sample rate", "device", dev.Name, "rate", rate, "error", err)
				continue
			}
			return nil, fmt.Errorf("open input %q: %w", dev.Name, lastErr)
		}
		if err := stream.Start(); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("start input %q: %w", dev.Name, classifyPortAudio(err))
		}

		s := newPAInputStream(stream, buf, rate)
		go s.run()
		return s, nil
	}
	return nil, fmt.Errorf("open input %q: %w", dev.Name, lastErr)
}

func (p *PortAudio) findInput(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", classifyPortAudio(err))
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", classifyPortAudio(err))
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && deviceID(d) == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input %q: %w", id, ErrDeviceNotFound)
}

func (p *PortAudio) Play(ctx context.Context, pcm []byte, sampleRate int, volume float64) (Playback, error) {
	buf := make([]int16, p.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", classifyPortAudio(err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output: %w", classifyPortAudio(err))
	}

	pb := &paPlayback{done: make(chan struct{}), stop: make(chan struct{})}
	go pb.run(ctx, stream, buf, scaledSamples(pcm, volume))
	return pb, nil
}

func deviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi != nil {
		return d.HostApi.Name + ":" + d.Name
	}
	return d.Name
}

func classifyPortAudio(err error) error {
	var hostErr portaudio.UnanticipatedHostError
	switch {
	case errors.As(err, &hostErr) && hostPermissionDenied(hostErr):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, portaudio.NotInitialized):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case errors.Is(err, portaudio.InvalidDevice):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case errors.Is(err, portaudio.InvalidSampleRate), errors.Is(err, portaudio.InvalidChannelCount):
		return fmt.Errorf("%w: %v", ErrConstraints, err)
	default:
		return err
	}
}

// hostPermissionDenied reports a host API refusing access to the device.
// ALSA returns negative errno codes.
func hostPermissionDenied(err portaudio.UnanticipatedHostError) bool {
	switch err.Code {
	case int(syscall.EACCES), -int(syscall.EACCES), int(syscall.EPERM), -int(syscall.EPERM):
		return true
	}
	return strings.Contains(strings.ToLower(err.Text), "permission")
}

func scaledSamples(pcm []byte, volume float64) []int16 {
	volume = math.Max(0, math.Min(1, volume))
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) * volume
		samples[i] = int16(v)
	}
	return samples
}

type paInputStream struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int

	mu      sync.Mutex
	ring    []float32
	pos     int
	filled  bool
	taps    map[int]chan []byte
	nextTap int
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

func newPAInputStream(stream *portaudio.Stream, buf []int16, rate int) *paInputStream {
	return &paInputStream{
		stream: stream,
		buf:    buf,
		rate:   rate,
		ring:   make([]float32, frameRingSize),
		taps:   make(map[int]chan []byte),
		done:   make(chan struct{}),
	}
}

func (s *paInputStream) SampleRate() int { return s.rate }

func (s *paInputStream) run() {
	defer close(s.done)
	for {
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.shutdown()
			return
		}

		pcm := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		for _, v := range s.buf {
			s.ring[s.pos] = float32(v) / 32768
			s.pos = (s.pos + 1) % len(s.ring)
			if s.pos == 0 {
				s.filled = true
			}
		}
		for _, ch := range s.taps {
			select {
			case ch <- pcm:
			default:
			}
		}
		s.mu.Unlock()
	}
}

func (s *paInputStream) Frame(dst []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}

	available := s.pos
	if s.filled {
		available = len(s.ring)
	}
	n := min(len(dst), available)
	start := s.pos - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(s.ring)) % len(s.ring)
		dst[i] = s.ring[idx]
	}
	return n, nil
}

func (s *paInputStream) Tap() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []byte, tapBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextTap
	s.nextTap++
	s.taps[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if tap, ok := s.taps[id]; ok {
				delete(s.taps, id)
				close(tap)
			}
		})
	}
}

func (s *paInputStream) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.taps {
		delete(s.taps, id)
		close(ch)
	}
}

func (s *paInputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.shutdown()
		if abortErr := s.stream.Abort(); abortErr != nil {
			slog.Warn("input abort failed", "error", abortErr)
		}
		select {
		case <-s.done:
		case <-time.After(closeWait):
			slog.Warn("input reader did not exit before close")
		}
		err = s.stream.Close()
	})
	return err
}

type paPlayback struct {
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func (p *paPlayback) run(ctx context.Context, stream *portaudio.Stream, buf []int16, samples []int16) {
	defer close(p.done)
	defer func() { _ = stream.Close() }()

	for off := 0; off < len(samples); off += len(buf) {
		select {
		case <-p.stop:
			_ = stream.Abort()
			return
		case <-ctx.Done():
			_ = stream.Abort()
			p.setErr(ctx.Err())
			return
		default:
		}

		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			p.setErr(fmt.Errorf("write output: %w", err))
			return
		}
	}
	_ = stream.Stop()
}

func (p *paPlayback) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *paPlayback) Done() <-chan struct{} { return p.done }

func (p *paPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *paPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}
