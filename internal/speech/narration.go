package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/media"
)

const (
	progressStep    = 10
	progressCeiling = 90
	progressDone    = 100

	MinRate   = 0.5
	MaxRate   = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

type NarrationSettings struct {
	Rate   float64 `json:"rate"`
	Volume float64 `json:"volume"`
	Voice  string  `json:"voice"`
}

func DefaultNarrationSettings() NarrationSettings {
	return NarrationSettings{Rate: 1, Volume: 0.8}
}

func (s NarrationSettings) clamped() NarrationSettings {
	s.Rate = min(max(s.Rate, MinRate), MaxRate)
	s.Volume = min(max(s.Volume, MinVolume), MaxVolume)
	return s
}

// NarrationHandlers are optional and run on synthesizer goroutines.
type NarrationHandlers struct {
	OnStart    func()
	OnProgress func(percent int)
	OnEnd      func()
	OnError    func(error)
}

// Narrator speaks one utterance at a time under a Synthesis session. Starting
// a new utterance, or any other audio session, cancels the current one.
type Narrator struct {
	arbiter *audio.Arbiter
	synth   Synthesizer
	locale  string

	mu       sync.Mutex
	settings NarrationSettings
	gen      uint64
	active   uint64
	progress int
	onChange func(int)
}

func NewNarrator(arbiter *audio.Arbiter, synth Synthesizer, locale string) *Narrator {
	if locale == "" {
		locale = DefaultLanguage
	}
	return &Narrator{
		arbiter:  arbiter,
		synth:    synth,
		locale:   locale,
		settings: DefaultNarrationSettings(),
	}
}

// OnProgress registers a callback that sees every progress change, in
// addition to per-utterance handlers.
func (n *Narrator) OnProgress(fn func(int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = fn
}

func (n *Narrator) Settings() NarrationSettings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settings
}

// SetSettings stores the settings clamped to their valid ranges and returns them.
func (n *Narrator) SetSettings(s NarrationSettings) NarrationSettings {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settings = s.clamped()
	return n.settings
}

func (n *Narrator) Progress() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

func (n *Narrator) Speaking() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active != 0
}

func (n *Narrator) Voices(ctx context.Context) ([]Voice, error) {
	if n.synth == nil {
		return nil, fmt.Errorf("list voices: %w", media.ErrUnsupported)
	}
	catalog, err := n.synth.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return FilterVoices(catalog, n.locale), nil
}

func (n *Narrator) Speak(ctx context.Context, text string, h NarrationHandlers) error {
	if n.synth == nil {
		return fmt.Errorf("speak: %w", media.ErrUnsupported)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lease, err := n.arbiter.Acquire(audio.KindSynthesis)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.active = gen
	settings := n.settings
	n.mu.Unlock()
	n.setProgress(gen, 0, h)

	u := Utterance{
		Text:     text,
		Language: n.locale,
		Voice:    settings.Voice,
		Rate:     settings.Rate,
		Volume:   settings.Volume,
	}
	speech, err := n.synth.Speak(context.WithoutCancel(ctx), u, SynthesisHandlers{
		OnStart: func() {
			if n.current(gen) && h.OnStart != nil {
				h.OnStart()
			}
		},
		OnBoundary: func() { n.advance(gen, h) },
		OnEnd: func() {
			if n.finish(gen, progressDone, h) {
				if h.OnEnd != nil {
					h.OnEnd()
				}
				go lease.Release()
			}
		},
		OnError: func(err error) {
			if n.finish(gen, 0, h) {
				slog.Warn("narration failed", "error", err)
				if h.OnError != nil {
					h.OnError(err)
				}
				go lease.Release()
			}
		},
	})
	if err != nil {
		n.finish(gen, 0, h)
		lease.Release()
		return fmt.Errorf("speak: %w", err)
	}

	lease.Hold(func() {
		n.finish(gen, 0, h)
		speech.Cancel()
	})
	return nil
}

// Stop cancels narration if it owns the device.
func (n *Narrator) Stop() {
	n.arbiter.ReleaseKind(audio.KindSynthesis)
}

func (n *Narrator) current(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active == gen
}

func (n *Narrator) advance(gen uint64, h NarrationHandlers) {
	n.mu.Lock()
	if n.active != gen {
		n.mu.Unlock()
		return
	}
	n.progress = min(n.progress+progressStep, progressCeiling)
	percent := n.progress
	onChange := n.onChange
	n.mu.Unlock()
	n.report(percent, onChange, h)
}

// finish ends utterance gen with the given progress. It reports false when gen
// was already finished or superseded.
func (n *Narrator) finish(gen uint64, percent int, h NarrationHandlers) bool {
	n.mu.Lock()
	if n.active != gen {
		n.mu.Unlock()
		return false
	}
	n.active = 0
	n.progress = percent
	onChange := n.onChange
	n.mu.Unlock()
	n.report(percent, onChange, h)
	return true
}

func (n *Narrator) setProgress(gen uint64, percent int, h NarrationHandlers) {
	n.mu.Lock()
	if n.active != gen {
		n.mu.Unlock()
		return
	}
	n.progress = percent
	onChange := n.onChange
	n.mu.Unlock()
	n.report(percent, onChange, h)
}

func (n *Narrator) report(percent int, onChange func(int), h NarrationHandlers) {
	if h.OnProgress != nil {
		h.OnProgress(percent)
	}
	if onChange != nil {
		onChange(percent)
	}
}
