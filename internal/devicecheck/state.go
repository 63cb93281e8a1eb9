package devicecheck

import (
	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/media"
)

type Step string

const (
	StepIdle       Step = "idle"
	StepMicrophone Step = "microphone"
	StepSpeaker    Step = "speaker"
	StepCompleted  Step = "completed"
)

type Status string

const (
	StatusUnchecked Status = "unchecked"
	StatusTesting   Status = "testing"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

type Event string

const (
	EventStart              Event = "start"
	EventSkip               Event = "skip"
	EventSelectDevice       Event = "select_device"
	EventStartMicTest       Event = "start_microphone_test"
	EventStopMicTest        Event = "stop_microphone_test"
	EventRetryMicrophone    Event = "retry_microphone"
	EventSkipToSpeaker      Event = "skip_to_speaker"
	EventContinue           Event = "continue"
	EventPlayTestRecording  Event = "play_test_recording"
	EventStopPlayback       Event = "stop_playback"
	EventPlaySpeakerTest    Event = "play_speaker_test"
	EventAcknowledgeSpeaker Event = "acknowledge_speaker"
	EventRetrySpeaker       Event = "retry_speaker"
	EventComplete           Event = "complete"
	EventReset              Event = "reset"
)

// Input is one user action. DeviceID is read by select_device and Heard by
// acknowledge_speaker.
type Input struct {
	Event    Event  `json:"event"`
	DeviceID string `json:"device_id,omitempty"`
	Heard    bool   `json:"heard,omitempty"`
}

type State struct {
	Step             Step               `json:"step"`
	Microphone       Status             `json:"microphone"`
	Speaker          Status             `json:"speaker"`
	SpeakerFailed    bool               `json:"speaker_failed"`
	Devices          []media.DeviceInfo `json:"devices"`
	SelectedDevice   string             `json:"selected_device"`
	Guidance         string             `json:"guidance,omitempty"`
	Transcript       string             `json:"transcript,omitempty"`
	Level            float64            `json:"level"`
	TestClip         audio.Handle       `json:"test_clip,omitempty"`
	PlayingTestClip  bool               `json:"playing_test_clip"`
	SpeakerTestEnded bool               `json:"speaker_test_ended"`
}

func initialState() State {
	return State{Step: StepIdle, Microphone: StatusUnchecked, Speaker: StatusUnchecked}
}

// transitions lists the events each step accepts. Anything else is refused
// with ErrInvalidTransition.
var transitions = map[Step]map[Event]bool{
	StepIdle: {
		EventStart: true,
		EventSkip:  true,
		EventReset: true,
	},
	StepMicrophone: {
		EventSelectDevice:      true,
		EventStartMicTest:      true,
		EventStopMicTest:       true,
		EventRetryMicrophone:   true,
		EventSkipToSpeaker:     true,
		EventContinue:          true,
		EventPlayTestRecording: true,
		EventStopPlayback:      true,
		EventSkip:              true,
		EventReset:             true,
	},
	StepSpeaker: {
		EventPlaySpeakerTest:    true,
		EventAcknowledgeSpeaker: true,
		EventRetrySpeaker:       true,
		EventPlayTestRecording:  true,
		EventStopPlayback:       true,
		EventComplete:           true,
		EventSkip:               true,
		EventReset:              true,
	},
	StepCompleted: {
		EventReset: true,
	},
}

func allowed(step Step, ev Event) bool {
	return transitions[step][ev]
}
