package audio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	FrameSize            = 2048
	Sensitivity          = 10.0
	DefaultFrameInterval = time.Second / 60
)

// FrameSource yields the most recent time-domain samples, normalized to [-1, 1].
type FrameSource interface {
	Frame(dst []float32) (int, error)
}

// Level is the RMS of samples scaled by Sensitivity and clamped to 1.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(rms*Sensitivity, 1)
}

// Meter polls a FrameSource once per frame and reports the level. A stopped
// meter cannot be restarted.
type Meter struct {
	src      FrameSource
	interval time.Duration
	onLevel  func(float64)

	emitMu  sync.Mutex
	stopped atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	last atomic.Uint64
	peak atomic.Uint64
}

// StartMeter begins polling. onLevel runs on the meter goroutine and must not
// call Stop.
func StartMeter(src FrameSource, interval time.Duration, onLevel func(float64)) *Meter {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	m := &Meter{
		src:      src,
		interval: interval,
		onLevel:  onLevel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Meter) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	buf := make([]float32, FrameSize)
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		n, err := m.src.Frame(buf)
		level := 0.0
		if err == nil {
			level = Level(buf[:n])
		}
		if !m.emit(level) || err != nil {
			return
		}
	}
}

func (m *Meter) emit(level float64) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if m.stopped.Load() {
		return false
	}
	m.last.Store(math.Float64bits(level))
	if level > math.Float64frombits(m.peak.Load()) {
		m.peak.Store(math.Float64bits(level))
	}
	if m.onLevel != nil {
		m.onLevel(level)
	}
	return true
}

// Stop ends polling. No level is reported after Stop returns.
func (m *Meter) Stop() {
	m.once.Do(func() {
		m.stopped.Store(true)
		close(m.stop)
	})
	// wait out an in-flight callback
	m.emitMu.Lock()
	m.emitMu.Unlock() //nolint:staticcheck
	<-m.done
}

func (m *Meter) Done() <-chan struct{} { return m.done }

func (m *Meter) Last() float64 { return math.Float64frombits(m.last.Load()) }

func (m *Meter) Peak() float64 { return math.Float64frombits(m.peak.Load()) }
