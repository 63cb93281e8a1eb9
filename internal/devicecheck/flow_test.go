package devicecheck

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/speech"
)

type harness struct {
	flow      *Flow
	arbiter   *audio.Arbiter
	clips     *audio.ClipStore
	capturer  *fakeCapturer
	synth     *fakeSynth
	events    *recordedEvents
	completed int
}

func newHarness(t *testing.T, stream *fakeStream, devices []media.DeviceInfo) *harness {
	t.Helper()
	h := &harness{
		arbiter:  audio.NewArbiter(),
		clips:    audio.NewClipStore(),
		capturer: &fakeCapturer{stream: stream},
		synth:    &fakeSynth{},
		events:   &recordedEvents{},
	}
	h.flow = New(Deps{
		Arbiter:  h.arbiter,
		Devices:  &fakeLister{devices: devices},
		Capturer: h.capturer,
		Codec:    wavOnlyCodec{},
		Narrator: speech.NewNarrator(h.arbiter, h.synth, ""),
		Clips:    h.clips,
		Events:   h.events,
		OnComplete: func(context.Context) error {
			h.completed++
			return nil
		},
		FrameInterval: time.Millisecond,
	})
	return h
}

func (h *harness) do(t *testing.T, in Input) {
	t.Helper()
	if err := h.flow.Handle(context.Background(), in); err != nil {
		t.Fatalf("%s failed: %v", in.Event, err)
	}
}

var twoDevices = []media.DeviceInfo{
	{ID: "core:builtin", Label: "Built-in"},
	{ID: "core:usb", Label: "USB", Default: true},
}

func loudStream() *fakeStream {
	return &fakeStream{sample: 0.05, payload: bytes.Repeat([]byte{1}, 2*audio.MinClipBytes)}
}

func TestHappyPathHandsOffToPractice(t *testing.T) {
	stream := loudStream()
	h := newHarness(t, stream, twoDevices)

	h.do(t, Input{Event: EventStart})
	st := h.flow.State()
	if st.Step != StepMicrophone || len(st.Devices) != 2 || st.SelectedDevice != "core:usb" {
		t.Fatalf("unexpected state after start: %+v", st)
	}

	h.do(t, Input{Event: EventSelectDevice, DeviceID: "core:builtin"})
	h.do(t, Input{Event: EventStartMicTest})
	if h.flow.State().Microphone != StatusTesting || h.arbiter.Current().Kind != audio.KindRecording {
		t.Fatalf("expected microphone test running")
	}
	if len(h.capturer.opened) != 1 || h.capturer.opened[0] != "core:builtin" {
		t.Fatalf("expected selected device opened, got %v", h.capturer.opened)
	}

	h.do(t, Input{Event: EventStopMicTest})
	st = h.flow.State()
	if st.Microphone != StatusSuccess || st.TestClip == "" {
		t.Fatalf("expected success with a test clip, got %+v", st)
	}
	if stream.closeCount() != 1 || h.arbiter.Current().Kind != audio.KindNone {
		t.Fatalf("expected stream closed and session released")
	}

	h.do(t, Input{Event: EventContinue})
	h.do(t, Input{Event: EventPlaySpeakerTest})
	if len(h.synth.texts) != 1 || h.synth.texts[0] != SpeakerTestPhrase {
		t.Fatalf("expected speaker phrase narrated, got %v", h.synth.texts)
	}
	h.synth.handlers[0].OnEnd()
	if h.flow.State().Speaker != StatusTesting {
		t.Fatalf("synthesis end must not decide the speaker status")
	}

	h.do(t, Input{Event: EventAcknowledgeSpeaker, Heard: true})
	h.do(t, Input{Event: EventComplete})

	st = h.flow.State()
	if st.Step != StepCompleted || st.Microphone != StatusSuccess || st.Speaker != StatusSuccess {
		t.Fatalf("unexpected final state %+v", st)
	}
	if h.completed != 1 {
		t.Fatalf("expected one hand-off, got %d", h.completed)
	}
}

func TestMicrophoneLevelAloneCountsAsSuccess(t *testing.T) {
	stream := &fakeStream{sample: 0.05}
	h := newHarness(t, stream, twoDevices)

	h.do(t, Input{Event: EventStart})
	h.do(t, Input{Event: EventStartMicTest})
	deadline := time.Now().Add(time.Second)
	for h.events.levelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.do(t, Input{Event: EventStopMicTest})

	st := h.flow.State()
	if st.Microphone != StatusSuccess || st.Transcript != msgLevelDetected {
		t.Fatalf("expected level-based success, got %+v", st)
	}
	if st.TestClip != "" {
		t.Fatalf("expected no clip for an empty recording")
	}
}

func TestMicrophoneFailureOffersRetryAndSkip(t *testing.T) {
	h := newHarness(t, &fakeStream{}, twoDevices)

	h.do(t, Input{Event: EventStart})
	h.do(t, Input{Event: EventStartMicTest})
	h.do(t, Input{Event: EventStopMicTest})

	st := h.flow.State()
	if st.Microphone != StatusFailed || !strings.Contains(st.Guidance, "未检测到有效音频输入") {
		t.Fatalf("expected failure with guidance, got %+v", st)
	}
	if err := h.flow.Handle(context.Background(), Input{Event: EventContinue}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected continue refused, got %v", err)
	}

	h.do(t, Input{Event: EventRetryMicrophone})
	if h.flow.State().Microphone != StatusUnchecked {
		t.Fatalf("expected retry to reset microphone status")
	}
	h.do(t, Input{Event: EventStartMicTest})
	h.do(t, Input{Event: EventStopMicTest})
	h.do(t, Input{Event: EventSkipToSpeaker})
	if h.flow.State().Step != StepSpeaker {
		t.Fatalf("expected speaker step after skip")
	}
}

func TestRecognitionOutcomeIsAdvisory(t *testing.T) {
	h := newHarness(t, loudStream(), twoDevices)
	rec := &silentRecognition{}
	h.flow.deps.Recognizer = &fakeRecognizer{rec: rec}

	h.do(t, Input{Event: EventStart})
	h.do(t, Input{Event: EventStartMicTest})
	rec.errs.Emit(speech.RecognitionError{Code: "network"})
	if got := h.flow.State().Transcript; got != "语音识别失败: network" {
		t.Fatalf("expected advisory transcript, got %q", got)
	}
	h.do(t, Input{Event: EventStopMicTest})

	st := h.flow.State()
	if st.Microphone != StatusSuccess {
		t.Fatalf("recognition errors must not fail the test, got %s", st.Microphone)
	}
	if st.Transcript != speech.MsgNoSpeech {
		t.Fatalf("expected no-speech notice, got %q", st.Transcript)
	}
}

func TestNarrationStopsBeforeMicrophoneOpens(t *testing.T) {
	h := newHarness(t, loudStream(), twoDevices)
	h.do(t, Input{Event: EventStart})

	narrator := h.flow.deps.Narrator
	if err := narrator.Speak(context.Background(), "请回答第一题", speech.NarrationHandlers{}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	speaking := true
	h.capturer.onOpen = func() { speaking = narrator.Speaking() }

	h.do(t, Input{Event: EventStartMicTest})
	if speaking {
		t.Fatalf("narration still active when the microphone opened")
	}
	if !h.synth.speeches[0].wasCanceled() {
		t.Fatalf("expected narration canceled")
	}
}

func TestSpeakerFailureBlocksCompletion(t *testing.T) {
	h := newHarness(t, loudStream(), twoDevices)
	h.do(t, Input{Event: EventStart})
	h.do(t, Input{Event: EventStartMicTest})
	h.do(t, Input{Event: EventStopMicTest})
	h.do(t, Input{Event: EventContinue})
	h.do(t, Input{Event: EventPlaySpeakerTest})
	h.do(t, Input{Event: EventAcknowledgeSpeaker, Heard: false})

	if err := h.flow.Handle(context.Background(), Input{Event: EventComplete}); !errors.Is(err, ErrSpeakerUnresolved) {
		t.Fatalf("expected ErrSpeakerUnresolved, got %v", err)
	}

	h.do(t, Input{Event: EventRetrySpeaker})
	st := h.flow.State()
	if st.Speaker != StatusUnchecked || !st.SpeakerFailed {
		t.Fatalf("retry resets status only, got %+v", st)
	}
	if err := h.flow.Handle(context.Background(), Input{Event: EventComplete}); !errors.Is(err, ErrSpeakerUnresolved) {
		t.Fatalf("expected completion still blocked, got %v", err)
	}

	h.do(t, Input{Event: EventAcknowledgeSpeaker, Heard: true})
	h.do(t, Input{Event: EventComplete})
	if h.completed != 1 {
		t.Fatalf("expected hand-off after resolution")
	}
}

func TestSkipFromIdle(t *testing.T) {
	h := newHarness(t, loudStream(), twoDevices)
	h.do(t, Input{Event: EventSkip})

	st := h.flow.State()
	if st.Step != StepCompleted || st.Microphone != StatusUnchecked || st.Speaker != StatusUnchecked {
		t.Fatalf("unexpected state after skip %+v", st)
	}
	if h.completed != 1 {
		t.Fatalf("expected hand-off on skip")
	}

	if err := h.flow.Handle(context.Background(), Input{Event: EventStart}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}
	h.do(t, Input{Event: EventReset})
	if h.flow.State().Step != StepIdle {
		t.Fatalf("expected reset to idle")
	}
}

func TestStartFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		lister media.DeviceLister
		want   error
	}{
		{name: "no devices", lister: &fakeLister{}, want: ErrNoDevices},
		{name: "unsupported", lister: nil, want: media.ErrUnsupported},
		{name: "permission", lister: &fakeLister{err: media.ErrPermissionDenied}, want: media.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(Deps{Devices: tt.lister})
			err := f.Handle(context.Background(), Input{Event: EventStart})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			st := f.State()
			if st.Step != StepMicrophone || st.Microphone != StatusFailed || st.Guidance == "" {
				t.Fatalf("unexpected state %+v", st)
			}
		})
	}
}

func TestOpenInputErrorIsClassified(t *testing.T) {
	h := newHarness(t, nil, twoDevices)
	h.capturer.err = media.ErrDeviceBusy

	h.do(t, Input{Event: EventStart})
	err := h.flow.Handle(context.Background(), Input{Event: EventStartMicTest})
	if !errors.Is(err, media.ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	st := h.flow.State()
	if st.Microphone != StatusFailed || st.Guidance != media.Guidance(media.ErrDeviceBusy) {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.arbiter.Current().Kind != audio.KindNone {
		t.Fatalf("expected recording session released")
	}
}

func TestEventsOutsideTheirStepAreRefused(t *testing.T) {
	f := New(Deps{})
	for _, ev := range []Event{EventComplete, EventContinue, EventStartMicTest, EventAcknowledgeSpeaker} {
		if err := f.Handle(context.Background(), Input{Event: ev}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", ev, err)
		}
	}
}
