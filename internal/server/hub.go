package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/devicecheck"
	"github.com/sjawhar/rehearsal/internal/practice"
)

// Hub fans events out to websocket subscribers. Slow subscribers drop
// messages rather than block the audio callbacks that publish them.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	now     func() time.Time
}

var (
	_ devicecheck.Events = (*Hub)(nil)
	_ practice.Events    = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{}), now: time.Now}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastAudioSession(s audio.Session) {
	h.broadcastEvent(AudioSessionEvent{Event: h.event("audio_session_changed"), Session: s})
}

func (h *Hub) BroadcastNarrationProgress(percent int) {
	h.broadcastEvent(NarrationProgressEvent{Event: h.event("narration_progress"), Percent: percent})
}

func (h *Hub) DeviceCheckChanged(s devicecheck.State) {
	h.broadcastEvent(DeviceCheckEvent{Event: h.event("device_check_changed"), State: s})
}

func (h *Hub) LevelChanged(level float64) {
	h.broadcastEvent(LevelEvent{Event: h.event("level"), Level: level})
}

func (h *Hub) PracticeChanged(s practice.Snapshot) {
	h.broadcastEvent(PracticeEvent{Event: h.event("practice_changed"), Practice: s})
}

func (h *Hub) TimerTick(remaining int) {
	h.broadcastEvent(TimerTickEvent{Event: h.event("timer_tick"), Remaining: remaining})
}

func (h *Hub) TranscriptChanged(final, interim string) {
	h.broadcastEvent(TranscriptEvent{Event: h.event("transcript"), Final: final, Interim: interim})
}

func (h *Hub) Advisory(message string) {
	h.broadcastEvent(AdvisoryEvent{Event: h.event("advisory"), Message: message})
}

func (h *Hub) event(eventType string) Event {
	return newEvent(eventType, h.now())
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "error", err)
		return
	}
	h.Broadcast(payload)
}
