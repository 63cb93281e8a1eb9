package devicecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/speech"
)

const (
	// SpeakerTestPhrase is narrated during the speaker step.
	SpeakerTestPhrase = "这是音响测试，如果您能听到这段话，说明音响工作正常。"

	// LevelThreshold is the live level above which the microphone counts as
	// working even when the recording was too small.
	LevelThreshold = 0.1

	testPlaybackVolume = 0.8

	msgRecognizing      = "正在识别..."
	msgLevelDetected    = "检测到音频输入，麦克风工作正常"
	msgEnumerateFailed  = "设备检测失败: %v"
	msgNoDevices        = "未检测到可用的音频输入设备"
	msgNoTestClip       = "没有可播放的录音文件，请先进行录音测试"
	msgPlaybackFailed   = "录音播放失败，但录音功能正常"
	msgSpeakerNotHeard  = "请检查扬声器音量和系统输出设备设置后重试"
	msgSpeakerStartFail = "扬声器测试启动失败: %v"
	msgSpeakerTestEnded = "测试语音播放完毕，请确认是否听到"
)

type Events interface {
	DeviceCheckChanged(State)
	LevelChanged(level float64)
}

type Deps struct {
	Arbiter    *audio.Arbiter
	Devices    media.DeviceLister
	Capturer   media.Capturer
	Codec      media.Codec
	Recognizer speech.Recognizer
	Narrator   *speech.Narrator
	Clips      *audio.ClipStore
	Player     *audio.ClipPlayer
	Events     Events
	// OnComplete hands off to practice once the check completes or is skipped.
	OnComplete func(ctx context.Context) error

	FrameInterval time.Duration
}

// Flow is the device self-test state machine. Handle serializes user actions;
// audio callbacks only touch state under mu and never call the arbiter.
type Flow struct {
	deps Deps

	op sync.Mutex

	mu     sync.Mutex
	state  State
	micGen uint64
}

func New(deps Deps) *Flow {
	if deps.Arbiter == nil {
		deps.Arbiter = audio.NewArbiter()
	}
	if deps.Clips == nil {
		deps.Clips = audio.NewClipStore()
	}
	return &Flow{deps: deps, state: initialState()}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() State {
	s := f.state
	s.Devices = slices.Clone(f.state.Devices)
	if _, h, ok := f.deps.Clips.Get(audio.TestSlot()); ok {
		s.TestClip = h
	} else {
		s.TestClip = ""
	}
	return s
}

// Handle applies one user action.
func (f *Flow) Handle(ctx context.Context, in Input) error {
	f.op.Lock()
	defer f.op.Unlock()

	step := f.State().Step
	if !allowed(step, in.Event) {
		return fmt.Errorf("%s in %s step: %w", in.Event, step, ErrInvalidTransition)
	}

	var err error
	switch in.Event {
	case EventStart:
		err = f.start(ctx)
	case EventSkip:
		err = f.skip(ctx)
	case EventSelectDevice:
		err = f.selectDevice(in.DeviceID)
	case EventStartMicTest:
		err = f.startMicrophoneTest(ctx)
	case EventStopMicTest:
		err = f.stopMicrophoneTest()
	case EventRetryMicrophone:
		err = f.retryMicrophone()
	case EventSkipToSpeaker:
		err = f.skipToSpeaker()
	case EventContinue:
		err = f.continueToSpeaker()
	case EventPlayTestRecording:
		err = f.playTestRecording(ctx)
	case EventStopPlayback:
		f.deps.Arbiter.ReleaseKind(audio.KindPlayback)
	case EventPlaySpeakerTest:
		err = f.playSpeakerTest(ctx)
	case EventAcknowledgeSpeaker:
		f.acknowledgeSpeaker(in.Heard)
	case EventRetrySpeaker:
		f.retrySpeaker()
	case EventComplete:
		err = f.complete(ctx)
	case EventReset:
		f.reset()
	default:
		err = fmt.Errorf("%s: %w", in.Event, ErrInvalidTransition)
	}
	f.publish()
	return err
}

func (f *Flow) update(fn func(*State)) {
	f.mu.Lock()
	fn(&f.state)
	f.mu.Unlock()
}

func (f *Flow) publish() {
	if f.deps.Events != nil {
		f.deps.Events.DeviceCheckChanged(f.State())
	}
}

func (f *Flow) start(ctx context.Context) error {
	f.deps.Arbiter.StopAll()
	f.deps.Clips.Clear(audio.TestSlot())
	f.update(func(s *State) {
		selected := s.SelectedDevice
		*s = initialState()
		s.Step = StepMicrophone
		s.SelectedDevice = selected
	})
	f.publish()

	devices, err := f.enumerate(ctx)
	if err != nil {
		f.update(func(s *State) {
			s.Microphone = StatusFailed
			s.Guidance = enumerateGuidance(err)
		})
		return err
	}

	f.update(func(s *State) {
		s.Devices = devices
		if !slices.ContainsFunc(devices, func(d media.DeviceInfo) bool { return d.ID == s.SelectedDevice }) {
			s.SelectedDevice = preferredDevice(devices)
		}
	})
	return nil
}

func (f *Flow) enumerate(ctx context.Context) ([]media.DeviceInfo, error) {
	if f.deps.Devices == nil {
		return nil, fmt.Errorf("enumerate devices: %w", media.ErrUnsupported)
	}
	devices, err := f.deps.Devices.InputDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

func enumerateGuidance(err error) string {
	if errors.Is(err, ErrNoDevices) {
		return fmt.Sprintf(msgEnumerateFailed, msgNoDevices)
	}
	return media.Guidance(err)
}

func preferredDevice(devices []media.DeviceInfo) string {
	for _, d := range devices {
		if d.Default {
			return d.ID
		}
	}
	return devices[0].ID
}

func (f *Flow) skip(ctx context.Context) error {
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		s.Step = StepCompleted
		s.Microphone = StatusUnchecked
		s.Speaker = StatusUnchecked
		s.Level = 0
	})
	return f.handOff(ctx)
}

func (f *Flow) selectDevice(id string) error {
	var err error
	f.update(func(s *State) {
		if !slices.ContainsFunc(s.Devices, func(d media.DeviceInfo) bool { return d.ID == id }) {
			err = fmt.Errorf("select device %q: %w", id, media.ErrDeviceNotFound)
			return
		}
		s.SelectedDevice = id
	})
	return err
}

func (f *Flow) startMicrophoneTest(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Microphone == StatusTesting {
		f.mu.Unlock()
		return fmt.Errorf("microphone test already running: %w", ErrInvalidTransition)
	}
	f.micGen++
	gen := f.micGen
	device := f.state.SelectedDevice
	f.mu.Unlock()

	if f.deps.Capturer == nil {
		err := fmt.Errorf("open microphone: %w", media.ErrUnsupported)
		f.failMicrophone(err)
		return err
	}

	// acquiring Recording stops any narration or playback first
	lease, err := f.deps.Arbiter.Acquire(audio.KindRecording)
	if err != nil {
		return err
	}

	stream, err := f.deps.Capturer.OpenInput(ctx, device)
	if err != nil {
		lease.Release()
		f.failMicrophone(err)
		return fmt.Errorf("open microphone: %w", err)
	}
	f.deps.Clips.Clear(audio.TestSlot())
	f.update(func(s *State) {
		s.Microphone = StatusTesting
		s.Transcript = msgRecognizing
		s.Guidance = ""
		s.Level = 0
	})

	lease.Hold(func() {
		if err := stream.Close(); err != nil {
			slog.Warn("close microphone stream", "error", err)
		}
	})

	recorder := audio.StartRecording(stream, f.deps.Codec)
	meter := audio.StartMeter(stream, f.deps.FrameInterval, func(level float64) { f.setLevel(gen, level) })
	lease.Hold(func() {
		meter.Stop()
		f.finishMicrophoneTest(gen, recorder.Stop(), meter.Peak())
	})

	f.startTestCapture(ctx, lease, stream, gen)
	return nil
}

// startTestCapture runs recognition next to the recorder. Its failures are
// advisory only.
func (f *Flow) startTestCapture(ctx context.Context, lease *audio.Lease, stream media.InputStream, gen uint64) {
	if f.deps.Recognizer == nil {
		return
	}
	rec, err := f.deps.Recognizer.NewRecognition(speech.DefaultRecognitionConfig(), stream)
	if err != nil {
		slog.Info("speech recognition unavailable for microphone test", "error", err)
		return
	}
	setTranscript := func(text string) {
		f.mu.Lock()
		if f.micGen == gen {
			f.state.Transcript = text
		}
		f.mu.Unlock()
		f.publish()
	}
	capture, err := speech.StartCapture(ctx, rec, speech.CaptureHandlers{
		OnTranscript: func(final, interim string) {
			text := final
			if interim != "" {
				text += " [" + interim + "]"
			}
			if text == "" {
				text = msgRecognizing
			}
			setTranscript(text)
		},
		OnAdvisory: setTranscript,
		OnNoSpeech: setTranscript,
	})
	if err != nil {
		slog.Warn("start microphone test recognition", "error", err)
		return
	}
	lease.Hold(capture.Stop)
}

func (f *Flow) setLevel(gen uint64, level float64) {
	f.mu.Lock()
	if f.micGen != gen {
		f.mu.Unlock()
		return
	}
	f.state.Level = level
	f.mu.Unlock()
	if f.deps.Events != nil {
		f.deps.Events.LevelChanged(level)
	}
}

func (f *Flow) finishMicrophoneTest(gen uint64, res audio.RecordingResult, peak float64) {
	f.mu.Lock()
	if f.micGen != gen || f.state.Microphone != StatusTesting {
		f.mu.Unlock()
		return
	}
	if res.Clip != nil {
		f.deps.Clips.Put(audio.TestSlot(), *res.Clip)
	}
	switch {
	case res.Status == audio.RecordingSuccess:
		f.state.Microphone = StatusSuccess
		if f.state.Transcript == msgRecognizing {
			f.state.Transcript = ""
		}
	case peak > LevelThreshold:
		f.state.Microphone = StatusSuccess
		f.state.Transcript = msgLevelDetected
	default:
		f.state.Microphone = StatusFailed
		f.state.Guidance = res.Message
	}
	f.state.Level = 0
	f.mu.Unlock()
	f.publish()
}

func (f *Flow) failMicrophone(err error) {
	f.update(func(s *State) {
		s.Microphone = StatusFailed
		s.Guidance = media.Guidance(err)
		s.Level = 0
	})
}

func (f *Flow) stopMicrophoneTest() error {
	if f.State().Microphone != StatusTesting {
		return fmt.Errorf("no microphone test running: %w", ErrInvalidTransition)
	}
	f.deps.Arbiter.ReleaseKind(audio.KindRecording)
	return nil
}

func (f *Flow) retryMicrophone() error {
	if f.State().Microphone != StatusFailed {
		return fmt.Errorf("retry microphone: %w", ErrInvalidTransition)
	}
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		s.Microphone = StatusUnchecked
		s.Guidance = ""
		s.Transcript = ""
	})
	return nil
}

func (f *Flow) skipToSpeaker() error {
	if f.State().Microphone != StatusFailed {
		return fmt.Errorf("skip to speaker: %w", ErrInvalidTransition)
	}
	f.toSpeaker()
	return nil
}

func (f *Flow) continueToSpeaker() error {
	if f.State().Microphone != StatusSuccess {
		return fmt.Errorf("continue: microphone not verified: %w", ErrInvalidTransition)
	}
	f.toSpeaker()
	return nil
}

func (f *Flow) toSpeaker() {
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		s.Step = StepSpeaker
		s.Speaker = StatusUnchecked
		s.Guidance = ""
		s.Level = 0
	})
}

func (f *Flow) playTestRecording(ctx context.Context) error {
	if f.deps.Player == nil {
		return fmt.Errorf("play test recording: %w", media.ErrUnsupported)
	}
	err := f.deps.Player.Play(ctx, audio.TestSlot(), testPlaybackVolume, func(err error) {
		f.update(func(s *State) {
			s.PlayingTestClip = false
			if err != nil {
				s.Guidance = msgPlaybackFailed
			}
		})
		f.publish()
	})
	if err != nil {
		f.update(func(s *State) {
			if errors.Is(err, audio.ErrNoClip) {
				s.Guidance = msgNoTestClip
			} else {
				s.Guidance = msgPlaybackFailed
			}
		})
		return err
	}
	f.update(func(s *State) { s.PlayingTestClip = true })
	return nil
}

func (f *Flow) playSpeakerTest(ctx context.Context) error {
	f.deps.Arbiter.StopAll()
	if f.deps.Narrator == nil {
		err := fmt.Errorf("speaker test: %w", media.ErrUnsupported)
		f.update(func(s *State) { s.Guidance = fmt.Sprintf(msgSpeakerStartFail, err) })
		return err
	}

	f.update(func(s *State) {
		s.Speaker = StatusTesting
		s.SpeakerTestEnded = false
		s.Guidance = ""
	})
	// synthesis outcome never decides the status; the user acknowledgment does
	err := f.deps.Narrator.Speak(ctx, SpeakerTestPhrase, speech.NarrationHandlers{
		OnEnd: func() {
			f.update(func(s *State) {
				s.SpeakerTestEnded = true
				s.Guidance = msgSpeakerTestEnded
			})
			f.publish()
		},
		OnError: func(err error) {
			f.update(func(s *State) {
				s.SpeakerTestEnded = true
				s.Guidance = fmt.Sprintf(msgSpeakerStartFail, err)
			})
			f.publish()
		},
	})
	if err != nil {
		f.update(func(s *State) { s.Guidance = fmt.Sprintf(msgSpeakerStartFail, err) })
		return err
	}
	return nil
}

func (f *Flow) acknowledgeSpeaker(heard bool) {
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		if heard {
			s.Speaker = StatusSuccess
			s.SpeakerFailed = false
			s.Guidance = ""
			return
		}
		s.Speaker = StatusFailed
		s.SpeakerFailed = true
		s.Guidance = msgSpeakerNotHeard
	})
}

func (f *Flow) retrySpeaker() {
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		s.Speaker = StatusUnchecked
		s.SpeakerTestEnded = false
	})
}

func (f *Flow) complete(ctx context.Context) error {
	if f.State().SpeakerFailed {
		return ErrSpeakerUnresolved
	}
	f.deps.Arbiter.StopAll()
	f.update(func(s *State) {
		s.Step = StepCompleted
		s.Level = 0
	})
	return f.handOff(ctx)
}

func (f *Flow) handOff(ctx context.Context) error {
	f.publish()
	if f.deps.OnComplete == nil {
		return nil
	}
	if err := f.deps.OnComplete(ctx); err != nil {
		return fmt.Errorf("start practice: %w", err)
	}
	return nil
}

func (f *Flow) reset() {
	f.deps.Arbiter.StopAll()
	f.deps.Clips.Clear(audio.TestSlot())
	f.update(func(s *State) {
		selected := s.SelectedDevice
		*s = initialState()
		s.SelectedDevice = selected
	})
}
