package server

import (
	"time"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/devicecheck"
	"github.com/sjawhar/rehearsal/internal/practice"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type AudioSessionEvent struct {
	Event
	Session audio.Session `json:"session"`
}

type LevelEvent struct {
	Event
	Level float64 `json:"level"`
}

type DeviceCheckEvent struct {
	Event
	State devicecheck.State `json:"state"`
}

type PracticeEvent struct {
	Event
	Practice practice.Snapshot `json:"practice"`
}

type TranscriptEvent struct {
	Event
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

type NarrationProgressEvent struct {
	Event
	Percent int `json:"percent"`
}

type TimerTickEvent struct {
	Event
	Remaining int `json:"remaining"`
}

type AdvisoryEvent struct {
	Event
	Message string `json:"message"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
