package audio

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sjawhar/rehearsal/internal/media"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: []float32{0, 0, 0, 0}, want: 0},
		{name: "quiet", samples: []float32{0.05, -0.05, 0.05, -0.05}, want: 0.5},
		{name: "clamped", samples: []float32{0.5, -0.5}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.samples)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Fatalf("expected %.4f, got %.4f", tt.want, got)
			}
		})
	}
}

func TestMeterEmitsAndStopsSynchronously(t *testing.T) {
	src := &fakeFrames{sample: 0.03}

	var calls atomic.Int32
	var afterStop atomic.Bool
	var lateCalls atomic.Int32
	m := StartMeter(src, time.Millisecond, func(level float64) {
		calls.Add(1)
		if afterStop.Load() {
			lateCalls.Add(1)
		}
	})

	deadline := time.After(time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("expected level callbacks")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	m.Stop()
	afterStop.Store(true)
	time.Sleep(20 * time.Millisecond)

	if lateCalls.Load() != 0 {
		t.Fatalf("expected no callbacks after Stop, got %d", lateCalls.Load())
	}
	if math.Abs(m.Last()-0.3) > 1e-3 {
		t.Fatalf("expected last level 0.3, got %f", m.Last())
	}
	m.Stop()
}

func TestMeterReportsZeroWhenStreamGone(t *testing.T) {
	src := &fakeFrames{sample: 0.08}

	levels := make(chan float64, 256)
	m := StartMeter(src, time.Millisecond, func(level float64) {
		levels <- level
	})

	select {
	case <-levels:
	case <-time.After(time.Second):
		t.Fatal("expected a first level")
	}
	src.set(0, media.ErrStreamClosed)

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("expected meter loop to exit after stream error")
	}

	var last float64 = -1
	for len(levels) > 0 {
		last = <-levels
	}
	if last != 0 {
		t.Fatalf("expected final level 0, got %f", last)
	}
	if m.Peak() < 0.79 {
		t.Fatalf("expected peak from first frames, got %f", m.Peak())
	}
	m.Stop()
}

func TestMeterStopWithoutFrames(t *testing.T) {
	m := StartMeter(&fakeFrames{err: errors.New("never read")}, time.Hour, nil)
	m.Stop()
	if m.Peak() != 0 {
		t.Fatalf("expected zero peak, got %f", m.Peak())
	}
}
